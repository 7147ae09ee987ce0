// internal/audit/indexer.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"funding-engine/internal/common/logger"
	"funding-engine/internal/reconcile"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ErrIndexFailed = errors.New("AUDIT_INDEX_FAILED")

const (
	KindInboundEvent = "lender_event"
	KindTransition   = "status_transition"
)

// IndexMapping is applied when the audit index is created. Identifiers are
// keywords so they can be filtered exactly; data stays unindexed.
const IndexMapping = `{
  "mappings": {
    "properties": {
      "kind":                 {"type": "keyword"},
      "source":               {"type": "keyword"},
      "event":                {"type": "keyword"},
      "eventName":            {"type": "keyword"},
      "eventUuid":            {"type": "keyword"},
      "lenderReference":      {"type": "keyword"},
      "lenderApplicationId":  {"type": "keyword"},
      "fundingApplicationId": {"type": "keyword"},
      "lenderType":           {"type": "keyword"},
      "fromStatus":           {"type": "keyword"},
      "toStatus":             {"type": "keyword"},
      "data":                 {"type": "object", "enabled": false},
      "occurredAt":           {"type": "date"},
      "indexedAt":            {"type": "date"}
    }
  }
}`

// Document is one entry in the audit index.
type Document struct {
	Kind                 string          `json:"kind"`
	Source               string          `json:"source"`
	Event                string          `json:"event"`
	EventName            string          `json:"eventName,omitempty"`
	EventUUID            string          `json:"eventUuid,omitempty"`
	LenderReference      string          `json:"lenderReference,omitempty"`
	LenderApplicationID  string          `json:"lenderApplicationId,omitempty"`
	FundingApplicationID string          `json:"fundingApplicationId,omitempty"`
	LenderType           string          `json:"lenderType,omitempty"`
	FromStatus           string          `json:"fromStatus,omitempty"`
	ToStatus             string          `json:"toStatus,omitempty"`
	Data                 json.RawMessage `json:"data,omitempty"`
	OccurredAt           time.Time       `json:"occurredAt"`
	IndexedAt            time.Time       `json:"indexedAt"`
}

// Indexer writes inbound lender events and applied transitions to
// Elasticsearch. Document ids are derived from the event so a redelivered
// event overwrites its own entry.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
	now    func() time.Time
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	if index == "" {
		index = "lender-events"
	}
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit-indexer", "index": index}),
		now:    time.Now,
	}
}

// RecordEvent indexes an inbound lender event before it is applied.
func (i *Indexer) RecordEvent(ctx context.Context, ev reconcile.Event, source string) error {
	doc := Document{
		Kind:            KindInboundEvent,
		Source:          source,
		Event:           ev.Type.String(),
		EventName:       ev.Name,
		EventUUID:       ev.UUID,
		LenderReference: ev.Reference,
		Data:            ev.Data,
		OccurredAt:      ev.OccurredAt.UTC(),
	}
	id := ""
	if ev.UUID != "" {
		id = "event:" + ev.UUID
	}
	return i.put(ctx, id, doc)
}

// Deliver indexes an applied status transition.
func (i *Indexer) Deliver(ctx context.Context, t reconcile.Transition) error {
	doc := Document{
		Kind:                 KindTransition,
		Source:               t.Source,
		Event:                t.Event.String(),
		LenderReference:      t.LenderReference,
		LenderApplicationID:  t.LenderApplicationID,
		FundingApplicationID: t.FundingApplicationID,
		LenderType:           string(t.LenderType),
		FromStatus:           string(t.From),
		ToStatus:             string(t.To),
		OccurredAt:           t.At.UTC(),
	}
	return i.put(ctx, fmt.Sprintf("transition:%s:%s", t.LenderApplicationID, t.To), doc)
}

func (i *Indexer) put(ctx context.Context, id string, doc Document) error {
	doc.IndexedAt = i.now().UTC()
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrIndexFailed, err)
	}

	opts := []func(*esapi.IndexRequest){i.client.Index.WithContext(ctx)}
	if id != "" {
		opts = append(opts, i.client.Index.WithDocumentID(id))
	}

	res, err := i.client.Index(i.index, bytes.NewReader(body), opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrIndexFailed, res.Status(), bytes.TrimSpace(msg))
	}

	i.logger.Debug("audit document indexed", map[string]interface{}{
		"kind":       doc.Kind,
		"documentId": id,
	})
	return nil
}
