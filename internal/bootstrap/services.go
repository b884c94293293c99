package bootstrap

import (
	"fmt"

	"travel_crm_backend/internal/delivery"
	"travel_crm_backend/internal/email"
	"travel_crm_backend/internal/events"
	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/leads/scoring"
	"travel_crm_backend/internal/reports"
	"travel_crm_backend/internal/whatsapp"
	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"
)

// Services is the follow-up engine with its collaborators.
type Services struct {
	Store      Store
	Bus        events.Bus
	Scores     *scoring.Service
	Engine     *followups.Engine
	Dispatcher *followups.Dispatcher
	Runner     *followups.Runner
}

// NewServices builds the engine, dispatcher and runner over store.
func NewServices(cfg *config.Config, store Store, bus events.Bus, log *logger.Logger) (*Services, error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	scores := scoring.New(store, bus, log)

	engine := followups.NewEngine(store, catalog, bus, log, followups.Options{
		Location:    cfg.GetFollowUpLocation(),
		AgencyName:  cfg.GetAgencyName(),
		Concurrency: cfg.GetFollowUpConcurrency(),
		BatchSize:   cfg.GetFollowUpBatchSize(),
	})
	engine.SetScoreRecalculator(scores)

	deliverer := NewDeliverer(cfg, log)
	dispatcher := followups.NewDispatcher(store, deliverer, bus, log, followups.DispatchOptions{
		Concurrency: cfg.GetFollowUpConcurrency(),
		SendRate:    cfg.GetFollowUpSendRate(),
		SendTimeout: cfg.GetDeliveryTimeout(),
		PhoneRegion: cfg.GetPhoneDefaultRegion(),
		Location:    cfg.GetFollowUpLocation(),
	})

	archiver, err := newArchiver(cfg, log)
	if err != nil {
		return nil, err
	}

	runner := followups.NewRunner(engine, dispatcher, archiver, bus, log, followups.RunnerOptions{
		BatchSize:  cfg.GetFollowUpBatchSize(),
		StaleAfter: cfg.GetStaleSendingAfter(),
		Retry:      followups.DefaultRetryPolicy(cfg.GetRetryMaxAttempts()),
	})

	return &Services{
		Store:      store,
		Bus:        bus,
		Scores:     scores,
		Engine:     engine,
		Dispatcher: dispatcher,
		Runner:     runner,
	}, nil
}

// NewDeliverer routes messages to whichever channels are configured.
func NewDeliverer(cfg *config.Config, log *logger.Logger) *delivery.Router {
	wa := whatsapp.NewSender(cfg, log)
	if wa == nil {
		log.Warn("whatsapp delivery not configured")
	}
	mail := email.NewSender(cfg)
	if mail == nil {
		log.Info("email delivery disabled")
	}
	return delivery.NewRouter(wa, mail)
}

func loadCatalog(cfg config.FollowUpConfig) (*followups.Catalog, error) {
	var (
		catalog *followups.Catalog
		err     error
	)
	if path := cfg.GetFollowUpTemplatesPath(); path != "" {
		catalog, err = followups.LoadCatalog(path)
	} else {
		catalog, err = followups.DefaultCatalog()
	}
	if err != nil {
		return nil, fmt.Errorf("load follow-up templates: %w", err)
	}
	if err := catalog.Validate(followups.DefaultRules()); err != nil {
		return nil, fmt.Errorf("validate follow-up templates: %w", err)
	}
	return catalog, nil
}

func newArchiver(cfg config.MinIOConfig, log *logger.Logger) (followups.ReportArchiver, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, nil
	}
	store, err := reports.NewMinIOStore(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("archiving run reports", "bucket", cfg.GetMinioBucketRunReports())
	return reports.NewArchiver(store, cfg.GetMinioBucketRunReports()), nil
}
