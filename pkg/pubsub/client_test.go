package pubsub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/edihub/edi-backend/pkg/config"
)

type fakeAdmin struct {
	mu      sync.Mutex
	exists  map[string]bool
	getErr  error
	created []string
}

func (f *fakeAdmin) GetTopic(_ context.Context, req *pubsubpb.GetTopicRequest, _ ...gax.CallOption) (*pubsubpb.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if !f.exists[req.GetTopic()] {
		return nil, status.Error(codes.NotFound, "topic not found")
	}
	return &pubsubpb.Topic{Name: req.GetTopic()}, nil
}

func (f *fakeAdmin) CreateTopic(_ context.Context, req *pubsubpb.Topic, _ ...gax.CallOption) (*pubsubpb.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req.GetName())
	f.exists[req.GetName()] = true
	return req, nil
}

func TestEnsureTopicsFailsOnMissingTopic(t *testing.T) {
	admin := &fakeAdmin{exists: map[string]bool{"projects/p/topics/bundles": true}}
	c := &Client{admin: admin, projectID: "p", topics: []string{"bundles", "messages"}}

	err := c.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), `topic "messages" does not exist`) {
		t.Fatalf("expected missing topic error, got %v", err)
	}
	if len(admin.created) != 0 {
		t.Fatalf("topics must not be created unless enabled")
	}
}

func TestEnsureTopicsCreatesWhenEnabled(t *testing.T) {
	admin := &fakeAdmin{exists: map[string]bool{}}
	c := &Client{admin: admin, projectID: "p", topics: []string{"bundles"}, create: true}

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(admin.created) != 1 || admin.created[0] != "projects/p/topics/bundles" {
		t.Fatalf("unexpected created topics %v", admin.created)
	}
}

func TestEnsureTopicsWrapsTransportErrors(t *testing.T) {
	admin := &fakeAdmin{getErr: status.Error(codes.Unavailable, "down")}
	c := &Client{admin: admin, projectID: "p", topics: []string{"bundles"}, create: true}

	err := c.Ping(context.Background())
	if err == nil || status.Code(errors.Unwrap(err)) != codes.Unavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if len(admin.created) != 0 {
		t.Fatalf("must not create topics on transport errors")
	}
}

func TestEnsureTopicsRequiresTopics(t *testing.T) {
	c := &Client{admin: &fakeAdmin{}, projectID: "p"}
	if err := c.Ping(context.Background()); !errors.Is(err, errNoTopics) {
		t.Fatalf("expected errNoTopics, got %v", err)
	}
}

func TestClientOptionsPreferInlineCredentials(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{CredentialsJSON: "{}", ApplicationCredentials: "/key.json"}); len(opts) != 1 {
		t.Fatalf("expected one credential option, got %d", len(opts))
	}
}

func TestTopicResourceName(t *testing.T) {
	tests := []struct {
		project string
		name    string
		want    string
	}{
		{project: "edi-prod", name: "edi-bundle-events", want: "projects/edi-prod/topics/edi-bundle-events"},
		{project: "edi-prod", name: " projects/other/topics/x ", want: "projects/other/topics/x"},
		{project: "", name: "edi-bundle-events", want: ""},
		{project: "edi-prod", name: "  ", want: ""},
	}
	for _, tt := range tests {
		if got := topicResourceName(tt.project, tt.name); got != tt.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tt.project, tt.name, got, tt.want)
		}
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{BundleEventsTopic: "bundles", MessageEventsTopic: " "})
	if len(names) != 1 || names[0] != "bundles" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil {
		t.Fatalf("expected nil publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error for nil client")
	}
}
