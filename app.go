package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"patient-imaging-api/constants"
	"patient-imaging-api/db"
	"patient-imaging-api/entities"
	"patient-imaging-api/imaging"
	"patient-imaging-api/patient"

	"github.com/bsm/redislock"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app holds the wired service and everything that must be closed with it.
type app struct {
	service *imaging.Service
	pool    *pgxpool.Pool
	queue   *patient.SummaryQueue
	closers []func()
	logger  *zap.Logger
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// flushSummaries pushes queued patient summaries synchronously.
func (a *app) flushSummaries(ctx context.Context) {
	if a.queue != nil {
		a.queue.Drain(ctx)
	}
}

// ingestFile stores a local file under its base name and flushes the
// resulting patient summary before returning.
func (a *app) ingestFile(ctx context.Context, patientID, path string) (*imaging.IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	result, err := a.service.Ingest(ctx, patientID, filepath.Base(path), data)
	a.flushSummaries(ctx)
	return result, err
}

func newApp(ctx context.Context, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	repo, err := a.newRepository(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	blobs, err := a.newBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	directory, summaries := a.newPatientDirectory()

	store := imaging.NewStore(repo, blobs, locker, logger)
	ingester := imaging.NewIngester(store, directory, summaries, imaging.IngestOptions{
		MaxUploadBytes: viper.GetInt64("ingest.max_upload_bytes"),
		PreviewQuality: viper.GetInt("preview.jpeg_quality"),
	}, logger)
	a.service = imaging.NewService(store, ingester, logger)
	return a, nil
}

func esAddresses() []string {
	if single := viper.GetString("elasticsearch.uri"); single != "" {
		return []string{single}
	}
	return viper.GetStringSlice("elasticsearch.uris")
}

func (a *app) newRepository(ctx context.Context) (imaging.Repository, error) {
	driver := viper.GetString("storage.driver")
	a.logger.Info("image repository", zap.String("driver", driver))

	switch driver {
	case constants.StorageDriverMemory:
		return imaging.NewMemoryRepository(), nil

	case constants.StorageDriverElasticsearch:
		es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: esAddresses()})
		if err != nil {
			return nil, fmt.Errorf("create elasticsearch client: %w", err)
		}
		res, err := es.Info()
		if err != nil {
			return nil, fmt.Errorf("cannot connect to elasticsearch: %w", err)
		}
		res.Body.Close()
		repo := imaging.NewESRepository(es, viper.GetString("elasticsearch.image_index_prefix"), a.logger)
		if err := repo.PutIndexTemplate(ctx); err != nil {
			return nil, fmt.Errorf("put image index template: %w", err)
		}
		return repo, nil

	case constants.StorageDriverPostgres:
		pool, err := db.NewPool(ctx, viper.GetString("postgres.url"),
			viper.GetInt32("postgres.max_conns"), viper.GetInt32("postgres.min_conns"))
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		return imaging.NewPGRepository(pool, a.logger), nil
	}
	return nil, fmt.Errorf("unknown storage.driver %q", driver)
}

func (a *app) newBlobStore(ctx context.Context) (imaging.BlobStore, error) {
	driver := viper.GetString("blob.driver")
	switch driver {
	case constants.BlobDriverMemory:
		return imaging.NewMemoryBlobStore(), nil

	case constants.BlobDriverMinIO:
		minioClient, err := minio.New(
			viper.GetString("minio.uri"),
			&minio.Options{
				Creds:  credentials.NewStaticV4(viper.GetString("minio.access_key_id"), viper.GetString("minio.secret_access_key"), ""),
				Secure: viper.GetBool("minio.use_ssl"),
			})
		if err != nil {
			return nil, fmt.Errorf("cannot connect to MinIO: %w", err)
		}
		blobs := imaging.NewMinIOBlobStore(minioClient, viper.GetString("minio.bucket_name"), a.logger)
		if err := blobs.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return blobs, nil
	}
	return nil, fmt.Errorf("unknown blob.driver %q", driver)
}

func (a *app) newLocker(ctx context.Context) (imaging.Locker, error) {
	driver := viper.GetString("lock.driver")
	switch driver {
	case constants.LockDriverLocal:
		return imaging.NewLocalLocker(), nil

	case constants.LockDriverRedis:
		clientRedis := redis.NewClient(&redis.Options{
			Network: "tcp",
			Addr:    viper.GetString("redis.uri"),
		})
		if err := clientRedis.Ping(ctx).Err(); err != nil {
			clientRedis.Close()
			return nil, fmt.Errorf("cannot connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { clientRedis.Close() })
		return imaging.NewRedisLocker(redislock.New(clientRedis), viper.GetDuration("lock.ttl"), a.logger), nil
	}
	return nil, fmt.Errorf("unknown lock.driver %q", driver)
}

// newPatientDirectory uses the patient service when one is configured and
// otherwise accepts every patient id.
func (a *app) newPatientDirectory() (patient.Directory, patient.SummaryRecorder) {
	uri := viper.GetString("patient.uri")
	if uri == "" {
		a.logger.Warn("patient.uri not set, every patient id is accepted")
		directory := patient.NewMemoryDirectory().AcceptAll()
		return directory, directory
	}
	client := patient.NewClient(uri, viper.GetDuration("patient.timeout"), viper.GetInt("patient.retry_count"))
	a.queue = patient.NewSummaryQueue(client, a.logger)
	return client, a.queue
}

func newRouter(a *app) *gin.Engine {
	route := gin.Default()
	route.Use(cors.New(cors.Config{
		AllowOrigins:     viper.GetStringSlice("cors.allow_origins"),
		AllowMethods:     []string{"POST", "PUT", "GET", "DELETE"},
		AllowHeaders:     []string{"Access-Control-Allow-Headers", "Origin", "Accept", "X-Requested-With", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
	}))

	if a.pool != nil {
		route.GET("/health", db.HealthHandler(a.pool))
	} else {
		route.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, entities.NewResponse())
		})
	}

	imageAPI := imaging.NewImageAPI(a.service, a.logger)
	imageAPI.InitRoute(route, "images")
	return route
}

func runServer(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.queue != nil {
		done := make(chan struct{})
		go func() {
			a.queue.Run(ctx)
			close(done)
		}()
		defer func() { <-done }()
	}

	server := &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("webserver.port"),
		Handler: newRouter(a),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
