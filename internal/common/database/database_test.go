package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"funding-engine/internal/common/config"
	stderrors "funding-engine/internal/common/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Transactions
// ==========================

func TestWithTx_Commits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE lender_applications").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE lender_applications SET status = 'disbursed'")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("guard failed")
	err = WithTx(context.Background(), db, func(tx *sql.Tx) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = WithTx(context.Background(), db, func(tx *sql.Tx) error { panic("boom") })
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Redis
// ==========================

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	assert.Error(t, err)
}

func TestRedisPing(t *testing.T) {
	mr := miniredis.RunT(t)

	rc, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, rc.Ping(context.Background()))

	mr.Close()
	err = rc.Ping(context.Background())
	stdErr, ok := stderrors.As(err)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeDatabaseConnectionFailed, stdErr.Code)
}

// ==========================
// Elasticsearch
// ==========================

type esResponse struct {
	status int
	body   string
}

type scriptedTransport struct {
	responses []esResponse
	requests  []string
	bodies    []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req.Method+" "+req.URL.Path)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(raw))
	}

	next := esResponse{status: http.StatusOK, body: "{}"}
	if len(s.responses) > 0 {
		next, s.responses = s.responses[0], s.responses[1:]
	}
	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: next.status,
		Status:     http.StatusText(next.status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(next.body)),
		Request:    req,
	}, nil
}

func newTestES(t *testing.T, tr *scriptedTransport) *ElasticsearchClient {
	t.Helper()
	es, err := NewElasticsearchWithTransport(config.ElasticsearchConfig{Addresses: []string{"http://es.test:9200"}}, tr)
	require.NoError(t, err)
	return es
}

func TestNewElasticsearch_RequiresAddresses(t *testing.T) {
	_, err := NewElasticsearch(config.ElasticsearchConfig{})
	assert.Error(t, err)
}

func TestEnsureIndex_Exists(t *testing.T) {
	tr := &scriptedTransport{responses: []esResponse{{status: http.StatusOK}}}

	created, err := newTestES(t, tr).EnsureIndex(context.Background(), "lender-events", `{"mappings":{}}`)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"HEAD /lender-events"}, tr.requests)
}

func TestEnsureIndex_Creates(t *testing.T) {
	tr := &scriptedTransport{responses: []esResponse{
		{status: http.StatusNotFound},
		{status: http.StatusOK, body: `{"acknowledged":true}`},
	}}

	created, err := newTestES(t, tr).EnsureIndex(context.Background(), "lender-events", `{"mappings":{}}`)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"HEAD /lender-events", "PUT /lender-events"}, tr.requests)
	assert.Contains(t, tr.bodies, `{"mappings":{}}`)
}

func TestEnsureIndex_LostCreateRace(t *testing.T) {
	tr := &scriptedTransport{responses: []esResponse{
		{status: http.StatusNotFound},
		{status: http.StatusBadRequest, body: `{"error":{"type":"resource_already_exists_exception"}}`},
	}}

	created, err := newTestES(t, tr).EnsureIndex(context.Background(), "lender-events", `{}`)

	require.NoError(t, err)
	assert.False(t, created)
}

func TestElasticsearchPing_Error(t *testing.T) {
	tr := &scriptedTransport{responses: []esResponse{{status: http.StatusInternalServerError}}}

	err := newTestES(t, tr).Ping(context.Background())

	stdErr, ok := stderrors.As(err)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeElasticsearchConnectionFailed, stdErr.Code)
}
