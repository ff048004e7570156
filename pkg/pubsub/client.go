package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub topic name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type topicAdmin interface {
	GetTopic(ctx context.Context, req *pubsubpb.GetTopicRequest, opts ...gax.CallOption) (*pubsubpb.Topic, error)
	CreateTopic(ctx context.Context, req *pubsubpb.Topic, opts ...gax.CallOption) (*pubsubpb.Topic, error)
}

// Client publishes bundle and message lifecycle events. It owns no
// subscriptions.
type Client struct {
	client    *pubsub.Client
	admin     topicAdmin
	projectID string
	topics    []string
	create    bool
	logg      *logger.Logger
}

// NewClient dials Pub/Sub and checks every configured topic exists, creating
// missing ones when cfg.CreateTopics is set.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    raw,
		admin:     raw.TopicAdminClient,
		projectID: projectID,
		topics:    topicNames(cfg),
		create:    cfg.CreateTopics,
		logg:      logg,
	}
	if err := c.ensureTopics(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", c.topics), "pubsub client initialized")
	}
	return c, nil
}

// clientOptions picks explicit credentials when configured; otherwise the
// library falls back to ADC or PUBSUB_EMULATOR_HOST.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.BundleEventsTopic, cfg.MessageEventsTopic} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func (c *Client) ensureTopics(ctx context.Context) error {
	if len(c.topics) == 0 {
		return errNoTopics
	}
	group, gctx := errgroup.WithContext(ctx)
	for _, name := range c.topics {
		group.Go(func() error { return c.ensureTopic(gctx, name) })
	}
	return group.Wait()
}

func (c *Client) ensureTopic(ctx context.Context, name string) error {
	resource := topicResourceName(c.projectID, name)
	if resource == "" {
		return fmt.Errorf("topic %q not configured", name)
	}
	_, err := c.admin.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: resource})
	switch {
	case err == nil:
		return nil
	case status.Code(err) != codes.NotFound:
		return fmt.Errorf("checking topic %q: %w", name, err)
	case !c.create:
		return fmt.Errorf("topic %q does not exist", name)
	}

	_, err = c.admin.CreateTopic(ctx, &pubsubpb.Topic{Name: resource})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("creating topic %q: %w", name, err)
	}
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "topic", resource), "pubsub topic created")
	}
	return nil
}

// Publisher returns a publisher for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	resource := topicResourceName(c.projectID, name)
	if resource == "" {
		return nil
	}
	return c.client.Publisher(resource)
}

// Ping re-checks that the configured topics are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.admin == nil {
		return errNotInitialized
	}
	return c.ensureTopics(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/") {
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/topics/" + name
}
