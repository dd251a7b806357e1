package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	firestore "google.golang.org/api/firestore/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrNotFound is returned when a limit record does not exist yet
var ErrNotFound = errors.New("record not found")

// UsageRecord is the per-day usage document users/{uid}/usage/{date}
type UsageRecord struct {
	Count int
	Limit int
}

// LimitStore reads and writes the per-user limit documents
type LimitStore struct {
	svc     *firestore.Service
	project string
}

// NewLimitStore creates a store authenticated with ts. Extra options override
// the endpoint or the HTTP client.
func NewLimitStore(ctx context.Context, projectID string, ts oauth2.TokenSource, opts ...option.ClientOption) (*LimitStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore: empty project id")
	}
	all := []option.ClientOption{option.WithTokenSource(ts)}
	all = append(all, opts...)
	svc, err := firestore.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("firestore: %w", err)
	}
	return &LimitStore{svc: svc, project: projectID}, nil
}

func (s *LimitStore) userDoc(uid string) string {
	return fmt.Sprintf("projects/%s/databases/(default)/documents/users/%s", s.project, uid)
}

func (s *LimitStore) usageDoc(uid, date string) string {
	return s.userDoc(uid) + "/usage/" + date
}

// DailyLimit reads users/{uid}.dailyLimit
func (s *LimitStore) DailyLimit(ctx context.Context, uid string) (int, error) {
	doc, err := s.svc.Projects.Databases.Documents.Get(s.userDoc(uid)).Context(ctx).Do()
	if err != nil {
		return 0, mapError(err)
	}
	v, ok := intField(doc, "dailyLimit")
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

// SetDailyLimit writes users/{uid}.dailyLimit, creating the document if needed
func (s *LimitStore) SetDailyLimit(ctx context.Context, uid string, limit int) error {
	doc := &firestore.Document{Fields: map[string]firestore.Value{
		"dailyLimit": {IntegerValue: int64(limit)},
	}}
	_, err := s.svc.Projects.Databases.Documents.Patch(s.userDoc(uid), doc).
		UpdateMaskFieldPaths("dailyLimit").Context(ctx).Do()
	return mapError(err)
}

// Usage reads users/{uid}/usage/{date}
func (s *LimitStore) Usage(ctx context.Context, uid, date string) (UsageRecord, error) {
	doc, err := s.svc.Projects.Databases.Documents.Get(s.usageDoc(uid, date)).Context(ctx).Do()
	if err != nil {
		return UsageRecord{}, mapError(err)
	}
	count, _ := intField(doc, "count")
	limit, _ := intField(doc, "limit")
	return UsageRecord{Count: count, Limit: limit}, nil
}

// SetUsage writes the given fields of users/{uid}/usage/{date}. Zero-valued
// fields are left untouched unless listed in fields.
func (s *LimitStore) SetUsage(ctx context.Context, uid, date string, rec UsageRecord, fields ...string) error {
	if len(fields) == 0 {
		fields = []string{"count", "limit"}
	}
	values := map[string]firestore.Value{}
	for _, f := range fields {
		switch f {
		case "count":
			values[f] = firestore.Value{IntegerValue: int64(rec.Count)}
		case "limit":
			values[f] = firestore.Value{IntegerValue: int64(rec.Limit)}
		default:
			return fmt.Errorf("firestore: unknown usage field %q", f)
		}
	}
	_, err := s.svc.Projects.Databases.Documents.Patch(s.usageDoc(uid, date), &firestore.Document{Fields: values}).
		UpdateMaskFieldPaths(fields...).Context(ctx).Do()
	return mapError(err)
}

func intField(doc *firestore.Document, name string) (int, bool) {
	if doc == nil {
		return 0, false
	}
	v, ok := doc.Fields[name]
	if !ok {
		return 0, false
	}
	return int(v.IntegerValue), true
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return fmt.Errorf("firestore: %w", err)
}
