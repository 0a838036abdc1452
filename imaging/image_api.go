package imaging

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"patient-imaging-api/constants"
	"patient-imaging-api/entities"
	"patient-imaging-api/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ImageAPI struct {
	service *Service
	logger  *zap.Logger
}

func NewImageAPI(service *Service, logger *zap.Logger) (app *ImageAPI) {
	app = &ImageAPI{
		service: service,
		logger:  logger,
	}
	return app
}

func (app *ImageAPI) InitRoute(engine *gin.Engine, path string) {
	group := engine.Group(path)
	group.POST("/upload", app.UploadImage)
	group.GET("", app.SearchImages)
	group.GET("/stats", app.GetStatistics)
	group.GET("/patient/:"+constants.ParamPatientID, app.ListPatientImages)
	group.GET("/:id", app.GetImage)
	group.GET("/:id/download", app.DownloadImage)
	group.GET("/:id/preview", app.DownloadPreview)
	group.PUT("/:id", app.UpdateImage)
	group.POST("/:id/tags", app.AddTags)
	group.DELETE("/:id", app.DeleteImage)
}

// errorStatus maps a service error to the HTTP status and response code.
func errorStatus(err error) (int, int) {
	switch {
	case errors.Is(err, ErrInvalidFilter), errors.Is(err, ErrInvalidUpdate):
		return http.StatusBadRequest, constants.ServerInvalidData
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, constants.ServerNotFound
	case errors.Is(err, ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge, constants.ServerUnprocessable
	case errors.Is(err, ErrEmptyUpload),
		errors.Is(err, ErrMalformedImageFile),
		errors.Is(err, ErrUnsupportedPixelEncoding),
		errors.Is(err, ErrPatientNotFound):
		return http.StatusUnprocessableEntity, constants.ServerUnprocessable
	case errors.Is(err, ErrPatientLookup):
		return http.StatusBadGateway, constants.ServerError
	case errors.Is(err, ErrLockNotObtained):
		return http.StatusConflict, constants.ServerError
	}
	return http.StatusInternalServerError, constants.ServerError
}

func (app *ImageAPI) fail(c *gin.Context, resp *entities.Response, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		app.logger.Error(c.Request.Method+" "+c.FullPath(), zap.Error(err))
	}
	resp.Fail(code, err)
	c.JSON(status, resp)
}

// filterFromQuery reads a FilterPredicate from the query string.
func filterFromQuery(c *gin.Context) (FilterPredicate, error) {
	filter := FilterPredicate{
		PatientID: c.Query(constants.ParamPatientID),
		StudyType: c.Query(constants.ParamStudyType),
		BodyPart:  c.Query(constants.ParamBodyPart),
		Tags:      c.QueryArray(constants.ParamTag),
	}
	var err error
	if filter.From, err = utils.ParseDateParam(c.Query(constants.ParamFrom), false); err != nil {
		return filter, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if filter.To, err = utils.ParseDateParam(c.Query(constants.ParamTo), true); err != nil {
		return filter, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if raw := c.Query(constants.ParamNoPreview); raw != "" {
		if filter.ExcludePreviews, err = strconv.ParseBool(raw); err != nil {
			return filter, fmt.Errorf("%w: %s=%q", ErrInvalidFilter, constants.ParamNoPreview, raw)
		}
	}
	return filter, nil
}

func (app *ImageAPI) UploadImage(c *gin.Context) {
	resp := entities.NewResponse()

	patientID := c.PostForm(constants.ParamPatientID)
	fileHeader, err := c.FormFile(constants.ParamFile)
	if patientID == "" || err != nil {
		resp.Fail(constants.ServerInvalidData, fmt.Errorf("%s and %s are required", constants.ParamPatientID, constants.ParamFile))
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		app.fail(c, resp, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	result, err := app.service.Ingest(c.Request.Context(), patientID, fileHeader.Filename, data)
	if err != nil {
		resp.Data = result
		app.fail(c, resp, err)
		return
	}

	resp.Data = result
	c.JSON(http.StatusOK, resp)
}

func (app *ImageAPI) SearchImages(c *gin.Context) {
	resp := entities.NewResponse()

	filter, err := filterFromQuery(c)
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	images, err := app.service.Search(c.Request.Context(), filter)
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	resp.Data = images
	resp.Count = len(images)
	c.JSON(http.StatusOK, resp)
}

func (app *ImageAPI) GetStatistics(c *gin.Context) {
	resp := entities.NewResponse()

	filter, err := filterFromQuery(c)
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	stats, err := app.service.Statistics(c.Request.Context(), filter)
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	resp.Data = stats
	resp.Count = stats.TotalCount
	resp.Agg = &kvStr2Inf{
		"study_type": stats.CountsByStudyType,
		"body_part":  stats.CountsByBodyPart,
	}
	c.JSON(http.StatusOK, resp)
}

func (app *ImageAPI) ListPatientImages(c *gin.Context) {
	resp := entities.NewResponse()

	from, err := utils.ParseDateParam(c.Query(constants.ParamFrom), false)
	if err != nil {
		app.fail(c, resp, fmt.Errorf("%w: %v", ErrInvalidFilter, err))
		return
	}
	to, err := utils.ParseDateParam(c.Query(constants.ParamTo), true)
	if err != nil {
		app.fail(c, resp, fmt.Errorf("%w: %v", ErrInvalidFilter, err))
		return
	}

	images, err := app.service.ListByPatientAndDateRange(c.Request.Context(), c.Param(constants.ParamPatientID), from, to)
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	resp.Data = images
	resp.Count = len(images)
	c.JSON(http.StatusOK, resp)
}

func (app *ImageAPI) GetImage(c *gin.Context) {
	resp := entities.NewResponse()

	image, err := app.service.GetImage(c.Request.Context(), c.Param(constants.ParamID))
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	resp.Data = image
	c.JSON(http.StatusOK, resp)
}

func (app *ImageAPI) sendPayload(c *gin.Context, payload *Payload) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", payload.FileName))
	c.Data(http.StatusOK, payload.ContentType, payload.Data)
}

func (app *ImageAPI) DownloadImage(c *gin.Context) {
	payload, err := app.service.DownloadPayload(c.Request.Context(), c.Param(constants.ParamID))
	if err != nil {
		app.fail(c, entities.NewResponse(), err)
		return
	}
	app.sendPayload(c, payload)
}

func (app *ImageAPI) DownloadPreview(c *gin.Context) {
	payload, err := app.service.DownloadPreview(c.Request.Context(), c.Param(constants.ParamID))
	if err != nil {
		app.fail(c, entities.NewResponse(), err)
		return
	}
	app.sendPayload(c, payload)
}

func (app *ImageAPI) UpdateImage(c *gin.Context) {
	resp := entities.NewResponse()

	var update MetadataUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		resp.Fail(constants.ServerInvalidData, err)
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	image, err := app.service.UpdateMetadata(c.Request.Context(), c.Param(constants.ParamID), update)
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	resp.Data = image
	c.JSON(http.StatusOK, resp)
}

func (app *ImageAPI) AddTags(c *gin.Context) {
	resp := entities.NewResponse()

	var tags map[string]string
	if err := c.ShouldBindJSON(&tags); err != nil {
		resp.Fail(constants.ServerInvalidData, err)
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	image, err := app.service.AddTags(c.Request.Context(), c.Param(constants.ParamID), tags)
	if err != nil {
		app.fail(c, resp, err)
		return
	}

	resp.Data = image
	c.JSON(http.StatusOK, resp)
}

func (app *ImageAPI) DeleteImage(c *gin.Context) {
	resp := entities.NewResponse()

	if err := app.service.Delete(c.Request.Context(), c.Param(constants.ParamID)); err != nil {
		app.fail(c, resp, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
