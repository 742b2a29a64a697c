package queue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/pkg/notion"
)

// Request database property names.
const (
	propName        = "Name"
	propStatus      = "Status"
	propRequest     = "Request"
	propLastRun     = "Last Run"
	propError       = "Error"
	propLastAttempt = "Last Attempt"
	propHistory     = "Run History"
)

// statusLabels maps request statuses to the database's status options.
var statusLabels = map[model.RequestStatus]string{
	model.RequestPending:    "Pending",
	model.RequestQueued:     "Queued",
	model.RequestProcessing: "Processing",
	model.RequestCompleted:  "Completed",
	model.RequestFailed:     "Failed",
}

// managedProps are written by the processor and never read as parameters.
var managedProps = map[string]bool{
	propStatus: true, propRequest: true, propLastRun: true,
	propError: true, propLastAttempt: true, propHistory: true,
}

// NotionSource reads the queue from a Notion database. Request parameters
// come from the JSON in the Request property, with every other property
// available under its lowercased, underscored name.
type NotionSource struct {
	client notion.Client
	dbID   string
	now    func() time.Time
}

// NewNotionSource creates a Source over the Notion database dbID.
func NewNotionSource(c notion.Client, dbID string) *NotionSource {
	return &NotionSource{client: c, dbID: dbID, now: time.Now}
}

// FetchQueued implements Source.
func (s *NotionSource) FetchQueued(ctx context.Context, limit int) ([]model.Request, error) {
	pages, err := notion.QueryByStatus(ctx, s.client, s.dbID, propStatus,
		statusLabels[model.RequestPending], statusLabels[model.RequestQueued])
	if err != nil {
		return nil, eris.Wrap(err, "queue: fetch notion requests")
	}
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	out := make([]model.Request, 0, len(pages))
	for _, p := range pages {
		out = append(out, pageToRequest(p))
	}
	return out, nil
}

// Update implements Source.
func (s *NotionSource) Update(ctx context.Context, r *model.Request) error {
	props := notionapi.Properties{
		propStatus: notion.Status(statusLabel(r.Status)),
		propError:  notion.Text(truncate(r.Error, notion.MaxTextLength)),
	}
	if r.LastAttemptAt != nil {
		props[propLastAttempt] = notion.DateTime(*r.LastAttemptAt)
	}
	if r.LastRun != nil {
		data, err := json.Marshal(r.LastRun)
		if err != nil {
			return eris.Wrapf(err, "queue: marshal last run %s", r.ID)
		}
		props[propLastRun] = notion.Text(string(data))
	}
	if len(r.History) > 0 {
		text, err := historyText(r.History, notion.MaxTextLength)
		if err != nil {
			return eris.Wrapf(err, "queue: marshal history %s", r.ID)
		}
		props[propHistory] = notion.Text(text)
	}

	if _, err := s.client.UpdatePage(ctx, r.ID, &notionapi.PageUpdateRequest{Properties: props}); err != nil {
		return eris.Wrapf(err, "queue: update notion request %s", r.ID)
	}
	return nil
}

// Enqueue creates a pending request page holding raw as JSON.
func (s *NotionSource) Enqueue(ctx context.Context, raw map[string]any) (*model.Request, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal request")
	}
	name, _ := raw["name"].(string)
	if strings.TrimSpace(name) == "" {
		name = "Lead request " + s.now().UTC().Format("2006-01-02 15:04")
	}
	page, err := s.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.dbID),
		},
		Properties: notionapi.Properties{
			propName:    notion.Title(name),
			propStatus:  notion.Status(statusLabel(model.RequestPending)),
			propRequest: notion.Text(string(data)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "queue: create notion request")
	}
	r := pageToRequest(*page)
	r.Status = model.RequestPending
	r.Raw = raw
	return &r, nil
}

func pageToRequest(p notionapi.Page) model.Request {
	r := model.Request{
		ID:        string(p.ID),
		Raw:       map[string]any{},
		CreatedAt: p.CreatedTime,
		UpdatedAt: p.LastEditedTime,
	}
	for name, prop := range p.Properties {
		if managedProps[name] {
			continue
		}
		v, ok := notion.Value(prop)
		if !ok {
			continue
		}
		if t, isTime := v.(time.Time); isTime {
			v = t.Format(time.RFC3339)
		}
		r.Raw[propertyKey(name)] = v
	}

	if v, ok := notion.Value(p.Properties[propStatus]); ok {
		r.Status = parseStatus(v.(string))
	}
	if v, ok := notion.Value(p.Properties[propRequest]); ok {
		var req map[string]any
		if err := json.Unmarshal([]byte(v.(string)), &req); err == nil {
			for k, val := range req {
				r.Raw[k] = val
			}
		}
	}
	if v, ok := notion.Value(p.Properties[propLastRun]); ok {
		_ = json.Unmarshal([]byte(v.(string)), &r.LastRun)
	}
	if v, ok := notion.Value(p.Properties[propHistory]); ok {
		_ = json.Unmarshal([]byte(v.(string)), &r.History)
	}
	if v, ok := notion.Value(p.Properties[propError]); ok {
		r.Error = v.(string)
	}
	if v, ok := notion.Value(p.Properties[propLastAttempt]); ok {
		t := v.(time.Time)
		r.LastAttemptAt = &t
	}
	return r
}

// historyText encodes the newest entries of history that fit in limit
// bytes.
func historyText(history []model.HistoryEntry, limit int) (string, error) {
	for start := range history {
		data, err := json.Marshal(history[start:])
		if err != nil {
			return "", err
		}
		if len(data) <= limit {
			return string(data), nil
		}
	}
	return "[]", nil
}

func statusLabel(s model.RequestStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func parseStatus(label string) model.RequestStatus {
	for s, l := range statusLabels {
		if strings.EqualFold(l, label) {
			return s
		}
	}
	return model.RequestStatus(strings.ToLower(strings.TrimSpace(label)))
}

// propertyKey turns "Units Min" into "units_min".
func propertyKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
