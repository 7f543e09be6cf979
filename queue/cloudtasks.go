package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"

	"github.com/leadfoundry/enrichworker/metrics"
	"github.com/leadfoundry/enrichworker/task"
)

// CloudTasks enqueues payloads as HTTP tasks targeting the worker's own
// task-execution endpoint, authenticated with an OIDC token minted for the
// configured service account.
type CloudTasks struct {
	client              *cloudtasks.Client
	queuePath           string
	workerBaseURL       string
	serviceAccountEmail string
	logger              *slog.Logger
}

// CloudTasksConfig names the target queue and the worker deployment.
type CloudTasksConfig struct {
	ProjectID           string
	LocationID          string
	QueueID             string
	WorkerBaseURL       string
	ServiceAccountEmail string
}

// NewCloudTasks creates a Cloud Tasks backed queue.
func NewCloudTasks(ctx context.Context, cfg CloudTasksConfig) (*CloudTasks, error) {
	if cfg.ProjectID == "" || cfg.LocationID == "" || cfg.QueueID == "" {
		return nil, fmt.Errorf("cloud tasks queue requires project, location, and queue IDs")
	}
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cloud tasks client: %w", err)
	}
	return &CloudTasks{
		client:              client,
		queuePath:           fmt.Sprintf("projects/%s/locations/%s/queues/%s", cfg.ProjectID, cfg.LocationID, cfg.QueueID),
		workerBaseURL:       strings.TrimSuffix(cfg.WorkerBaseURL, "/"),
		serviceAccountEmail: cfg.ServiceAccountEmail,
		logger:              slog.Default(),
	}, nil
}

// Enqueue implements TaskQueue.
func (q *CloudTasks) Enqueue(ctx context.Context, p *task.Payload) (string, error) {
	body, err := p.Marshal()
	if err != nil {
		return "", err
	}

	req := &cloudtaskspb.CreateTaskRequest{
		Parent: q.queuePath,
		Task: &cloudtaskspb.Task{
			MessageType: &cloudtaskspb.Task_HttpRequest{
				HttpRequest: &cloudtaskspb.HttpRequest{
					HttpMethod: cloudtaskspb.HttpMethod_POST,
					Url:        q.workerBaseURL + "/tasks/" + p.TaskName,
					Headers: map[string]string{
						"Content-Type": "application/json",
						"X-Request-ID": p.TraceID,
					},
					Body: body,
					AuthorizationHeader: &cloudtaskspb.HttpRequest_OidcToken{
						OidcToken: &cloudtaskspb.OidcToken{
							ServiceAccountEmail: q.serviceAccountEmail,
							Audience:            q.workerBaseURL,
						},
					},
				},
			},
		},
	}

	created, err := q.client.CreateTask(ctx, req)
	if err != nil {
		metrics.QueueEnqueues.WithLabelValues("cloudtasks", "error").Inc()
		return "", fmt.Errorf("enqueue job %s: %w", p.JobID, err)
	}
	metrics.QueueEnqueues.WithLabelValues("cloudtasks", "ok").Inc()
	q.logger.InfoContext(ctx, "job enqueued",
		"job_id", p.JobID, "task", p.TaskName, "queue_task", created.GetName())
	return created.GetName(), nil
}

// Close releases the underlying gRPC connection.
func (q *CloudTasks) Close() error {
	return q.client.Close()
}
