package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPatientServer(t *testing.T, received chan<- Summary) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/patients/p-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/patients/p-500", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/patients/p-1/summary", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var summary Summary
		require.NoError(t, json.NewDecoder(r.Body).Decode(&summary))
		received <- summary
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

func TestClientExists(t *testing.T) {
	server := newPatientServer(t, make(chan Summary, 1))
	defer server.Close()
	client := NewClient(server.URL, time.Second, 0)
	ctx := context.Background()

	{
		found, err := client.Exists(ctx, "p-1")
		assert.NoError(t, err)
		assert.True(t, found)
	}
	{
		found, err := client.Exists(ctx, "p-unknown")
		assert.NoError(t, err)
		assert.False(t, found)
	}
	{
		_, err := client.Exists(ctx, "p-500")
		assert.Error(t, err)
	}
}

func TestClientExistsUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond, 0)
	_, err := client.Exists(context.Background(), "p-1")
	assert.Error(t, err)
}

func TestClientRecordExamination(t *testing.T) {
	received := make(chan Summary, 1)
	server := newPatientServer(t, received)
	defer server.Close()
	client := NewClient(server.URL, time.Second, 0)

	examined := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	err := client.RecordExamination(context.Background(), Summary{
		PatientID:           "p-1",
		ImageID:             "img-1",
		LastExaminationDate: examined,
		LastModality:        "MR",
	})
	require.NoError(t, err)

	summary := <-received
	assert.Equal(t, "img-1", summary.ImageID)
	assert.True(t, examined.Equal(summary.LastExaminationDate))

	err = client.RecordExamination(context.Background(), Summary{PatientID: "p-unknown"})
	assert.Error(t, err)
}

type countingRecorder struct {
	mu        sync.Mutex
	summaries []Summary
}

func (r *countingRecorder) RecordExamination(_ context.Context, summary Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
	return nil
}

func TestSummaryQueueDrain(t *testing.T) {
	target := &countingRecorder{}
	queue := NewSummaryQueue(target, zap.NewNop())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, queue.RecordExamination(ctx, Summary{PatientID: "p-1", ImageID: id}))
	}
	assert.Equal(t, 3, queue.Len())

	queue.Drain(ctx)
	assert.Equal(t, 0, queue.Len())
	require.Len(t, target.summaries, 3)
	assert.Equal(t, "a", target.summaries[0].ImageID)
	assert.Equal(t, "c", target.summaries[2].ImageID)
}

func TestSummaryQueueRunDrainsOnCancel(t *testing.T) {
	target := &countingRecorder{}
	queue := NewSummaryQueue(target, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		queue.Run(ctx)
		close(done)
	}()
	require.NoError(t, queue.RecordExamination(ctx, Summary{PatientID: "p-1", ImageID: "x"}))
	cancel()
	<-done

	target.mu.Lock()
	defer target.mu.Unlock()
	assert.Len(t, target.summaries, 1)
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory("p-1")

	found, _ := dir.Exists(ctx, "p-1")
	assert.True(t, found)
	found, _ = dir.Exists(ctx, "p-2")
	assert.False(t, found)

	dir.Add("p-2")
	found, _ = dir.Exists(ctx, "p-2")
	assert.True(t, found)

	found, _ = NewMemoryDirectory().AcceptAll().Exists(ctx, "anyone")
	assert.True(t, found)

	later := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	earlier := later.AddDate(0, -1, 0)
	require.NoError(t, dir.RecordExamination(ctx, Summary{PatientID: "p-1", ImageID: "new", LastExaminationDate: later}))
	require.NoError(t, dir.RecordExamination(ctx, Summary{PatientID: "p-1", ImageID: "old", LastExaminationDate: earlier}))
	summary, ok := dir.Summary("p-1")
	require.True(t, ok)
	assert.Equal(t, "new", summary.ImageID)
}
