// Package coordinator owns the "app context" DESIGN NOTES calls for: it
// constructs every repository, agent, and the store exactly once at
// startup and passes them explicitly into each component, replacing the
// original source's module-level singletons (get_db, get_settings,
// get_llm_manager, get_image_manager). It also owns the cron-based
// scheduler that drives each agent's periodic tick, grounded on
// teradata-labs-loom's pkg/scheduler/scheduler.go (robfig/cron/v3,
// Start/Stop around a *cron.Cron, graceful drain on Stop).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"rewind/internal/actions"
	"rewind/internal/activities"
	"rewind/internal/apperrors"
	"rewind/internal/chat"
	"rewind/internal/config"
	"rewind/internal/diary"
	"rewind/internal/emitter"
	"rewind/internal/events"
	"rewind/internal/imageopt"
	"rewind/internal/knowledge"
	"rewind/internal/llm"
	"rewind/internal/llm/openaicompat"
	"rewind/internal/observability"
	"rewind/internal/perception"
	"rewind/internal/scenes"
	"rewind/internal/store"
	"rewind/internal/supervisor"
	"rewind/internal/todos"
)

// perceptionTickInterval is how often the coordinator drains the
// perception buffer into the scene/action/todo extraction chain. It runs
// more often than the buffer's own retention window so no window's worth
// of records is ever silently dropped before extraction.
const perceptionTickInterval = 15 * time.Second

const cleanupInterval = 24 * time.Hour

// App is the single process-wide object holding every repository, agent,
// and shared resource the coordinator constructs at Start (spec.md §9
// DESIGN NOTES: "require them only at the coordinator's construction time
// and pass them explicitly into each agent").
type App struct {
	settings *config.Settings
	emit     emitter.Emitter

	store      *store.Store
	provider   llm.Provider
	imagePool  *imageopt.Pool
	imageCache *imageopt.Cache

	perceptionBuf *perception.Buffer

	actionRepo       store.ActionRepository
	eventRepo        store.EventRepository
	activityRepo     store.ActivityRepository
	knowledgeRepo    store.KnowledgeRepository
	todoRepo         store.TodoRepository
	diaryRepo        store.DiaryRepository
	thumbnailRepo    store.ThumbnailRepository
	conversationRepo store.ConversationRepository
	statsRepo        store.PipelineStatsRepository
	modelRepo        store.LLMModelRepository
	tokenUsageRepo   store.TokenUsageRepository

	sceneExtractor  *scenes.Extractor
	actionsAgent    *actions.Agent
	eventsAgent     *events.Agent
	activitiesAgent *activities.Agent
	knowledgeAgent  *knowledge.Agent
	todosAgent      *todos.Agent
	diaryGenerator  *diary.Generator
	validator       *supervisor.Validator

	Chat *chat.Service

	cronEngine *cron.Cron
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once

	// requiresModel mirrors spec.md §7's config-kind state: set when Start
	// finds no active LLM model/endpoint configured, so the background
	// pipeline stays idle while the store and Chat.* methods remain usable.
	requiresModel bool
}

// RequiresModel reports whether the background pipeline is idle pending an
// active LLM model being configured (spec.md §7's requires_model state).
func (a *App) RequiresModel() bool {
	return a.requiresModel
}

// New constructs an App from settings, wiring every agent but performing no
// I/O (no store open, no goroutines). Call Start to bring it up.
func New(settings *config.Settings, emit emitter.Emitter) *App {
	if emit == nil {
		emit = emitter.NopEmitter{}
	}
	return &App{settings: settings, emit: emit}
}

// Start opens the store, builds every repository/agent, schedules the cron
// jobs, and begins draining recordSource into the perception buffer.
// recordSource may be nil in headless/test contexts that only need the
// command-surface methods (chat, diary, stats).
func (a *App) Start(ctx context.Context, recordSource perception.RecordSource) error {
	cfg := a.settings.Snapshot()

	st, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		// spec.md §7: a DB file/directory that cannot be created is
		// fatal-init - logged and raised to the process entry point, the
		// pipeline stays down.
		return apperrors.FatalInitf("coordinator", fmt.Errorf("open store at %s: %w", cfg.Database.Path, err))
	}
	a.store = st
	a.settings.AttachStore(st)

	a.provider = openaicompat.New(openaicompat.Config{
		APIURL:                cfg.LLM.APIURL,
		APIKey:                cfg.LLM.APIKey,
		Model:                 cfg.LLM.Model,
		ConnectTimeoutSeconds: cfg.LLM.ConnectTimeoutSeconds,
		ReadTimeoutSeconds:    cfg.LLM.ReadTimeoutSeconds,
		MaxRetries:            cfg.LLM.MaxRetries,
	})

	// spec.md §7: a missing active model is a config-kind error - the
	// coordinator surfaces a requires_model state and the background
	// pipeline refuses to start, but the store and Chat.* methods below
	// still work (a host UI can keep listing conversations/activities and
	// prompt the user to pick a model).
	requiresModel := cfg.LLM.Model == "" || cfg.LLM.APIURL == ""
	if requiresModel {
		log.Warn().Err(apperrors.Configf("coordinator", fmt.Errorf("no active LLM model configured"))).
			Msg("coordinator_requires_model")
	}
	a.imagePool = imageopt.NewPool(4)
	a.imageCache = imageopt.NewCache(cfg.ImageCache.Capacity)
	a.perceptionBuf = perception.New(
		perception.WithWindow(time.Duration(cfg.Perception.WindowSeconds)*time.Second),
		perception.WithSweepGap(time.Duration(cfg.Perception.SweepIntervalSeconds)*time.Second),
		perception.WithScreenshotDedupe(cfg.Perception.PHashThreshold, imageopt.Distance),
	)

	a.buildRepositories()
	a.buildAgents(imageopt.CompressionLevel(cfg.ImageOptimizer.CompressionLevel))

	a.Chat = chat.NewService(a.provider, a.conversationRepo, a.activityRepo, a.emit)

	a.requiresModel = requiresModel

	tickCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if requiresModel {
		log.Warn().Msg("coordinator_pipeline_idle_awaiting_model_configuration")
		return nil
	}

	if recordSource != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := perception.Run(tickCtx, recordSource, a.perceptionBuf); err != nil && tickCtx.Err() == nil {
				log.Error().Err(err).Msg("perception_source_stopped")
			}
		}()
	}

	if err := a.scheduleJobs(tickCtx, cfg); err != nil {
		return apperrors.FatalInitf("coordinator", fmt.Errorf("schedule jobs: %w", err))
	}
	a.cronEngine.Start()
	log.Info().Msg("coordinator_started")
	return nil
}

func (a *App) buildRepositories() {
	a.actionRepo = store.NewActionRepository(a.store)
	a.eventRepo = store.NewEventRepository(a.store)
	a.activityRepo = store.NewActivityRepository(a.store)
	a.knowledgeRepo = store.NewKnowledgeRepository(a.store)
	a.todoRepo = store.NewTodoRepository(a.store)
	a.diaryRepo = store.NewDiaryRepository(a.store)
	a.thumbnailRepo = store.NewThumbnailRepository(a.store)
	a.conversationRepo = store.NewConversationRepository(a.store)
	a.statsRepo = store.NewPipelineStatsRepository(a.store)
	a.modelRepo = store.NewLLMModelRepository(a.store)
	a.tokenUsageRepo = store.NewTokenUsageRepository(a.store)
}

func (a *App) buildAgents(compressionTier imageopt.CompressionLevel) {
	a.validator = supervisor.NewValidator(a.provider)

	a.sceneExtractor = scenes.NewExtractor(a.provider, a.imagePool, compressionTier)

	a.actionsAgent = actions.NewAgent(a.provider, a.imagePool, compressionTier, a.actionRepo, a.statsRepo)
	a.actionsAgent.Supervisor = func(ctx context.Context, items []store.Action) []store.Action {
		return supervisor.ValidateItems(ctx, a.validator, supervisor.CategoryAction, items)
	}

	a.eventsAgent = events.NewAgent(a.provider, a.actionRepo, a.eventRepo, a.statsRepo)
	a.activitiesAgent = activities.NewAgent(a.provider, a.eventRepo, a.activityRepo, a.statsRepo)

	a.knowledgeAgent = knowledge.NewAgent(a.provider, a.imagePool, compressionTier, a.knowledgeRepo, a.actionRepo, a.thumbnailRepo, a.statsRepo)
	a.knowledgeAgent.Supervisor = func(ctx context.Context, items []store.Knowledge) []store.Knowledge {
		return supervisor.ValidateItems(ctx, a.validator, supervisor.CategoryKnowledge, items)
	}

	a.todosAgent = todos.NewAgent(a.provider, a.imagePool, compressionTier, a.todoRepo, a.statsRepo)
	a.todosAgent.Supervisor = func(ctx context.Context, items []store.Todo) []store.Todo {
		return supervisor.ValidateItems(ctx, a.validator, supervisor.CategoryTodo, items)
	}

	a.diaryGenerator = diary.NewGenerator(a.provider, a.activityRepo, a.diaryRepo)
	a.diaryGenerator.Supervisor = a.validator
}

// scheduleJobs installs every periodic tick onto a's cron engine. cfg's
// *_interval_seconds fields drive the schedule spec (robfig/cron's
// "@every Ns" form), matching each agent's documented default timer.
func (a *App) scheduleJobs(ctx context.Context, cfg config.Config) error {
	a.cronEngine = cron.New()

	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context) error
	}{
		{"perception_tick", perceptionTickInterval, a.perceptionTick},
		{"events_tick", time.Duration(cfg.Agents.EventIntervalSeconds) * time.Second, a.eventsAgent.Tick},
		{"activities_tick", time.Duration(cfg.Agents.SessionIntervalSeconds) * time.Second, a.activitiesAgent.Tick},
		{"knowledge_merge", time.Duration(cfg.Agents.KnowledgeMergeIntervalSeconds) * time.Second, a.knowledgeAgent.Merge},
		{"knowledge_catchup", time.Duration(cfg.Agents.KnowledgeCatchupIntervalSeconds) * time.Second, a.knowledgeAgent.Catchup},
		{"todos_merge", time.Duration(cfg.Agents.TodoMergeIntervalSeconds) * time.Second, a.todosAgent.Merge},
		{"retention_cleanup", cleanupInterval, a.cleanupTick},
	}

	for _, job := range jobs {
		job := job
		spec := fmt.Sprintf("@every %s", job.interval)
		_, err := a.cronEngine.AddFunc(spec, func() {
			logger := observability.LoggerWithTrace(ctx)
			logger.Debug().Str("job", job.name).Msg("agent_tick_start")
			if err := job.fn(ctx); err != nil {
				logger.Warn().Err(err).Str("job", job.name).Msg("agent_tick_error")
				return
			}
			logger.Debug().Str("job", job.name).Msg("agent_tick_complete")
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	return nil
}

// perceptionTick drains the most recent screenshot/keyboard/mouse records
// from the buffer, extracts scenes (C3), and feeds them to the action
// agent (C4) - "Optional supervisor pass... may revise the actions list"
// runs inline via actionsAgent.Supervisor. The TODO agent's
// screenshot-based entry point runs independently over the same batch,
// mirroring the original architecture where TodoAgent.extract_todos never
// went through the scene/action pipeline.
func (a *App) perceptionTick(ctx context.Context) error {
	screenshotKind := perception.KindScreenshot
	screenshots := a.perceptionBuf.GetLatest(20, &screenshotKind)
	if len(screenshots) == 0 {
		return nil
	}
	keyboardKind := perception.KindKeyboard
	mouseKind := perception.KindMouse
	keyboard := a.perceptionBuf.GetLatest(20, &keyboardKind)
	mouse := a.perceptionBuf.GetLatest(20, &mouseKind)

	scns, err := a.sceneExtractor.Extract(ctx, screenshots, keyboard, mouse)
	if err != nil {
		return fmt.Errorf("extract scenes: %w", err)
	}
	// spec.md §5: "within a single pipeline tick, the sequence
	// C1->C2->C3->{C4,C7,C8} is strictly linear" - so action, knowledge, and
	// todo extraction all run inline off this tick's scenes, on top of
	// knowledge's independent catchup/merge timers and todos' own
	// screenshot-direct entry point.
	if len(scns) > 0 {
		if _, err := a.actionsAgent.ExtractAndSave(ctx, actions.FromScenes(scns)); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("perception_tick_action_extraction_failed")
		}
		if _, err := a.knowledgeAgent.ExtractFromScenes(ctx, scns, nil); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("perception_tick_knowledge_extraction_failed")
		}
		if _, err := a.todosAgent.ExtractFromScenes(ctx, scns, nil); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("perception_tick_todo_scene_extraction_failed")
		}
	}
	if _, err := a.todosAgent.ExtractFromScreenshots(ctx, screenshots, nil); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("perception_tick_todo_extraction_failed")
	}
	return nil
}

func (a *App) cleanupTick(ctx context.Context) error {
	cfg := a.settings.Snapshot()
	result, err := store.Cleanup(ctx, a.store, a.thumbnailRepo, cfg.Retention.Days)
	if err != nil {
		return err
	}
	observability.LoggerWithTrace(ctx).Info().
		Interface("hard_deleted", result.HardDeletedByTable).
		Int64("orphaned_thumbnails", result.OrphanedThumbnails).
		Msg("retention_cleanup_complete")
	return nil
}

// PipelineStats returns every pipeline stage's current counters
// (spec.md §6.4 get_pipeline_stats).
func (a *App) PipelineStats(ctx context.Context) (map[string]map[string]int64, error) {
	return a.statsRepo.All(ctx)
}

// GenerateDiary implements the generate_diary(date) command.
func (a *App) GenerateDiary(ctx context.Context, date string) (store.Diary, error) {
	return a.diaryGenerator.Generate(ctx, date)
}

// Stop drains the cron engine, stops the perception source goroutine, and
// closes the store. Safe to call more than once.
func (a *App) Stop(ctx context.Context) error {
	var stopErr error
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.cronEngine != nil {
			cronDone := a.cronEngine.Stop()
			select {
			case <-cronDone.Done():
			case <-ctx.Done():
				log.Warn().Msg("coordinator_stop_timeout_cron_jobs_may_be_running")
			}
		}
		a.wg.Wait()
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				stopErr = fmt.Errorf("close store: %w", err)
			}
		}
		log.Info().Msg("coordinator_stopped")
	})
	return stopErr
}
