package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"patient-imaging-api/constants"
	"patient-imaging-api/dicom/dicomtest"
	"patient-imaging-api/patient"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type apiResponse struct {
	ErrorCode int                        `json:"error_code"`
	Message   string                     `json:"message"`
	Count     int                        `json:"count"`
	Data      json.RawMessage            `json:"data"`
	Agg       map[string]map[string]int `json:"agg"`
}

func newTestAPI(t *testing.T) (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	store := NewStore(NewMemoryRepository(), NewMemoryBlobStore(), NewLocalLocker(), logger)
	directory := patient.NewMemoryDirectory("p-1")
	service := NewService(store, NewIngester(store, directory, directory, IngestOptions{}, logger), logger)

	engine := gin.New()
	NewImageAPI(service, logger).InitRoute(engine, "/images")
	return engine, service
}

func do(t *testing.T, engine *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, apiResponse) {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	var resp apiResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func uploadRequest(t *testing.T, patientID, fileName string, data []byte) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField(constants.ParamPatientID, patientID))
	part, err := mw.CreateFormFile(constants.ParamFile, fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/images/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAPIUploadAndFetch(t *testing.T) {
	engine, _ := newTestAPI(t)

	w, resp := do(t, engine, uploadRequest(t, "p-1", "knee.dcm", dicomtest.MonochromeMR()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, constants.ServerOK, resp.ErrorCode)
	var result IngestResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, constants.IngestStatusStored, result.Status)

	w, resp = do(t, engine, httptest.NewRequest(http.MethodGet, "/images/"+result.OriginalID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var image StoredImage
	require.NoError(t, json.Unmarshal(resp.Data, &image))
	assert.Equal(t, result.PreviewID, image.PreviewImageID)

	w, _ = do(t, engine, httptest.NewRequest(http.MethodGet, "/images/"+result.OriginalID+"/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, constants.ContentTypeOctetStream, w.Header().Get("Content-Type"))
	assert.Equal(t, dicomtest.MonochromeMR(), w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="knee.dcm"`)

	w, _ = do(t, engine, httptest.NewRequest(http.MethodGet, "/images/"+result.OriginalID+"/preview", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, constants.ContentTypeJPEG, w.Header().Get("Content-Type"))

	w, resp = do(t, engine, httptest.NewRequest(http.MethodGet, "/images/patient/p-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, resp.Count)

	w, resp = do(t, engine, httptest.NewRequest(http.MethodGet, "/images?patient_id=p-1&exclude_previews=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Count)

	w, resp = do(t, engine, httptest.NewRequest(http.MethodGet, "/images/stats?patient_id=p-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, map[string]int{"MR": 2}, resp.Agg["study_type"])
	assert.Equal(t, map[string]int{"KNEE": 2}, resp.Agg["body_part"])
}

func TestAPIUploadRejected(t *testing.T) {
	engine, _ := newTestAPI(t)

	w, resp := do(t, engine, uploadRequest(t, "p-1", "notes.txt", []byte("hello")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, constants.ServerUnprocessable, resp.ErrorCode)
	var result IngestResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, constants.ReasonMalformedImageFile, result.Reason)

	w, _ = do(t, engine, uploadRequest(t, "p-9", "a.jpg", jpegUpload))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/images/upload", nil)
	w, resp = do(t, engine, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, constants.ServerInvalidData, resp.ErrorCode)
}

func TestAPIUpdateTagsDelete(t *testing.T) {
	engine, service := newTestAPI(t)
	result, err := service.Ingest(context.Background(), "p-1", "a.png", pngUpload)
	require.NoError(t, err)
	path := "/images/" + result.OriginalID

	req := httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"description":"left","study_type":"XR"}`))
	req.Header.Set("Content-Type", "application/json")
	w, resp := do(t, engine, req)
	require.Equal(t, http.StatusOK, w.Code)
	var image StoredImage
	require.NoError(t, json.Unmarshal(resp.Data, &image))
	assert.Equal(t, "left", image.Description)
	assert.Equal(t, "XR", image.StudyType)

	req = httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"metadata":{"modality":"CT"}}`))
	req.Header.Set("Content-Type", "application/json")
	w, resp = do(t, engine, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, constants.ServerInvalidData, resp.ErrorCode)

	req = httptest.NewRequest(http.MethodPost, path+"/tags", bytes.NewBufferString(`{"urgent":"yes"}`))
	req.Header.Set("Content-Type", "application/json")
	w, resp = do(t, engine, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &image))
	assert.Equal(t, []string{"urgent"}, image.TagKeys)

	w, resp = do(t, engine, httptest.NewRequest(http.MethodGet, "/images?tag=urgent", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Count)

	w, _ = do(t, engine, httptest.NewRequest(http.MethodDelete, path, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w, resp = do(t, engine, httptest.NewRequest(http.MethodDelete, path, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, constants.ServerNotFound, resp.ErrorCode)
	w, _ = do(t, engine, httptest.NewRequest(http.MethodGet, path+"/download", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIInvalidFilter(t *testing.T) {
	engine, _ := newTestAPI(t)

	for _, target := range []string{
		"/images?from=yesterday",
		"/images?from=2024-02-01&to=2024-01-01",
		"/images/stats?exclude_previews=maybe",
		"/images/patient/p-1?to=soon",
	} {
		w, resp := do(t, engine, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, constants.ServerInvalidData, resp.ErrorCode, target)
	}
}

func TestErrorStatus(t *testing.T) {
	status, code := errorStatus(ErrUploadTooLarge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, constants.ServerUnprocessable, code)

	status, _ = errorStatus(storageError("lock image", ErrLockNotObtained))
	assert.Equal(t, http.StatusConflict, status)

	status, code = errorStatus(ErrPatientLookup)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, constants.ServerError, code)

	status, _ = errorStatus(storageError("put payload", ErrBlobNotFound))
	assert.Equal(t, http.StatusInternalServerError, status)
}
