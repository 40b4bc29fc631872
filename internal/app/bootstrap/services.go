package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	openai "github.com/sashabaranov/go-openai"

	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/conversation"
	"github.com/wolfman30/dental-booking-agent/internal/followups"
	"github.com/wolfman30/dental-booking-agent/internal/knowledge"
	"github.com/wolfman30/dental-booking-agent/internal/negotiation"
	"github.com/wolfman30/dental-booking-agent/internal/scheduler"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const embeddingCacheTTL = 24 * time.Hour

// BuildOpenAIClient returns the shared OpenAI client or nil without an API key.
func BuildOpenAIClient(cfg *appconfig.Config) *openai.Client {
	if cfg == nil || strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
		oc.BaseURL = base
	}
	return openai.NewClientWithConfig(oc)
}

// BuildEmbedder selects the embedding provider and wraps it in the redis cache
// when available.
func (rt *Runtime) BuildEmbedder(awsCfg aws.Config, oc *openai.Client) (knowledge.Embedder, error) {
	var base knowledge.Embedder
	switch rt.Config.EmbeddingProvider {
	case "bedrock":
		base = knowledge.NewBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), rt.Config.BedrockEmbeddingModelID)
	case "", "openai":
		if oc == nil {
			return nil, errors.New("bootstrap: OPENAI_API_KEY is required for openai embeddings")
		}
		base = knowledge.NewOpenAIEmbedder(oc, rt.Config.OpenAIEmbeddingModel)
	default:
		return nil, fmt.Errorf("bootstrap: unknown EMBEDDING_PROVIDER %q", rt.Config.EmbeddingProvider)
	}
	if rt.Redis == nil {
		return base, nil
	}
	return knowledge.NewCachedEmbedder(base, rt.Redis, embeddingCacheTTL, rt.Logger), nil
}

// BuildDrafter returns the plain-text LLM used for negotiation drafts. The
// returned closer releases the provider client.
func (rt *Runtime) BuildDrafter(ctx context.Context, oc *openai.Client) (conversation.LLMClient, string, func(), error) {
	switch rt.Config.DraftProvider {
	case "gemini":
		client, err := conversation.NewGeminiLLMClient(ctx, rt.Config.GeminiAPIKey, rt.Config.GeminiModel)
		if err != nil {
			return nil, "", nil, err
		}
		return client, rt.Config.GeminiModel, func() { _ = client.Close() }, nil
	case "", "openai":
		if oc == nil {
			return nil, "", nil, errors.New("bootstrap: OPENAI_API_KEY is required for openai drafts")
		}
		return conversation.NewOpenAIClient(oc, rt.Config.OpenAIModel), rt.Config.OpenAIModel, func() {}, nil
	default:
		return nil, "", nil, fmt.Errorf("bootstrap: unknown DRAFT_PROVIDER %q", rt.Config.DraftProvider)
	}
}

// BuildAgent wires the conversational agent.
func (rt *Runtime) BuildAgent(awsCfg aws.Config) (*conversation.Agent, error) {
	oc := BuildOpenAIClient(rt.Config)
	if oc == nil {
		return nil, errors.New("bootstrap: OPENAI_API_KEY is required for the agent")
	}
	embedder, err := rt.BuildEmbedder(awsCfg, oc)
	if err != nil {
		return nil, err
	}
	retriever := knowledge.NewRetriever(embedder, knowledge.NewPostgresRepository(rt.Pool), rt.Logger,
		knowledge.WithTenantRanking(rt.Config.KnowledgeRankTenant))
	intake, err := negotiation.NewIntake(negotiation.NewStore(rt.Pool), rt.Appointments, rt.Clients, rt.Tenants,
		rt.Clock, rt.Logger.With("component", "negotiation_intake"))
	if err != nil {
		return nil, err
	}

	return conversation.NewAgent(conversation.AgentDeps{
		LLM:          conversation.NewOpenAIClient(oc, rt.Config.OpenAIModel),
		Clients:      rt.Clients,
		Tenants:      rt.Tenants,
		Booking:      rt.Booking,
		Availability: rt.Availability,
		Knowledge:    retriever,
		History:      rt.Messages,
		Sender:       rt.Sender,
		Reschedule:   intake,
		Audit:        rt.Audit,
		Metrics:      rt.AgentMetrics,
		Logger:       rt.Logger,
	},
		conversation.WithMaxToolRounds(rt.Config.MaxToolRounds),
		conversation.WithDefaultTenant(rt.Config.DefaultTenantID),
		conversation.WithModel(rt.Config.OpenAIModel),
	)
}

// BuildQueue returns the SQS queue, or an in-process queue when configured.
func BuildQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.QueueClient, error) {
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.ConversationQueueURL) == "" {
		if logger != nil {
			logger.Warn("using in-memory conversation queue; messages are not shared across processes")
		}
		return conversation.NewMemoryQueue(256), nil
	}
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ConversationQueueURL)
}

// Jobs are the scheduled background jobs.
type Jobs struct {
	Negotiation *negotiation.Job
	Reminder    *followups.ReminderJob
	Review      *followups.ReviewJob
	closeDraft  func()
}

// Close releases the drafting client.
func (j *Jobs) Close() {
	if j != nil && j.closeDraft != nil {
		j.closeDraft()
	}
}

// BuildJobs wires the negotiation, reminder and review jobs.
func (rt *Runtime) BuildJobs(ctx context.Context) (*Jobs, error) {
	drafter, model, closeDraft, err := rt.BuildDrafter(ctx, BuildOpenAIClient(rt.Config))
	if err != nil {
		return nil, err
	}

	negotiationJob, err := negotiation.NewJob(negotiation.Deps{
		Queue:        negotiation.NewStore(rt.Pool),
		Appointments: rt.Appointments,
		Clients:      rt.Clients,
		Tenants:      rt.Tenants,
		Drafter:      drafter,
		Sender:       rt.Sender,
		Messages:     rt.Messages,
		Clock:        rt.Clock,
		Audit:        rt.Audit,
		Metrics:      rt.JobMetrics,
		Logger:       rt.Logger.With("job", "negotiation"),
	},
		negotiation.WithLeasePolicy(rt.Config.NegotiationLeaseTimeout, rt.Config.NegotiationMaxAttempts),
		negotiation.WithDraftModel(model),
	)
	if err != nil {
		closeDraft()
		return nil, err
	}

	deps := followups.Deps{
		Appointments: rt.Appointments,
		Clients:      rt.Clients,
		Tenants:      rt.Tenants,
		Sender:       rt.Sender,
		Messages:     rt.Messages,
		Clock:        rt.Clock,
		Audit:        rt.Audit,
		Metrics:      rt.JobMetrics,
		Logger:       rt.Logger,
	}
	reminder, err := followups.NewReminderJob(deps)
	if err != nil {
		closeDraft()
		return nil, err
	}
	review, err := followups.NewReviewJob(deps, rt.Config.FallbackReviewLink)
	if err != nil {
		closeDraft()
		return nil, err
	}
	return &Jobs{Negotiation: negotiationJob, Reminder: reminder, Review: review, closeDraft: closeDraft}, nil
}

// BuildScheduler registers every job on its configured cron schedule.
func (rt *Runtime) BuildScheduler(jobs *Jobs) (*scheduler.Scheduler, error) {
	s := scheduler.New(rt.Config.JobTimeout, rt.Logger)
	entries := []scheduler.Job{
		{Name: "negotiation", Schedule: rt.Config.NegotiationSchedule, Run: logSummary(rt.Logger, "negotiation", jobs.Negotiation.Run)},
		{Name: "reminder", Schedule: rt.Config.ReminderSchedule, Run: logSummary(rt.Logger, "reminder", jobs.Reminder.Run)},
		{Name: "review", Schedule: rt.Config.ReviewSchedule, Run: logSummary(rt.Logger, "review", jobs.Review.Run)},
	}
	for _, job := range entries {
		if err := s.Register(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// logSummary adapts a job run to the scheduler signature.
func logSummary[S any](logger *logging.Logger, name string, run func(context.Context) (S, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		sum, err := run(ctx)
		if err == nil {
			logger.Info("job summary", "job", name, "summary", sum)
		}
		return err
	}
}
