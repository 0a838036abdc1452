package constants

const (
	ENV = "API_ENV"

	ParamID        = "id"
	ParamPatientID = "patient_id"
	ParamStudyType = "study_type"
	ParamBodyPart  = "body_part"
	ParamFrom      = "from"
	ParamTo        = "to"
	ParamTag       = "tag"
	ParamFile      = "file"
	ParamNoPreview = "exclude_previews"

	DefaultLimit  = 100
	MaxAggBuckets = 1000

	EnvDevelopment = "DEVELOPMENT"

	StorageDriverMemory        = "memory"
	StorageDriverElasticsearch = "elasticsearch"
	StorageDriverPostgres      = "postgres"

	BlobDriverMemory = "memory"
	BlobDriverMinIO  = "minio"

	LockDriverLocal = "local"
	LockDriverRedis = "redis"
)

// Error codes carried in entities.Response.ErrorCode.
const (
	ServerOK            = 0
	ServerInvalidData   = 1
	ServerNotFound      = 2
	ServerUnprocessable = 3
	ServerError         = 4
)

const (
	FileFormatDICOM = "dcm"
	FileFormatJPEG  = "jpg"
	FileFormatPNG   = "png"

	ContentTypeOctetStream = "application/octet-stream"
	ContentTypeJPEG        = "image/jpeg"
	ContentTypePNG         = "image/png"

	PreviewStateNone        = "none"
	PreviewStatePending     = "pending"
	PreviewStateLinked      = "linked"
	PreviewStateUnavailable = "unavailable"

	IngestStatusStored          = "Stored"
	IngestStatusStoredNoPreview = "StoredNoPreview"
	IngestStatusRejected        = "Rejected"

	ReasonEmptyUpload              = "EmptyUpload"
	ReasonUploadTooLarge           = "UploadTooLarge"
	ReasonMalformedImageFile       = "MalformedImageFile"
	ReasonUnsupportedPixelEncoding = "UnsupportedPixelEncoding"
	ReasonPatientNotFound          = "PatientNotFound"
	ReasonPatientLookupFailure     = "PatientLookupFailure"
	ReasonStorageFailure           = "StorageFailure"
)
