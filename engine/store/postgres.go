package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/pkg/repo"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// TableName is the remote articles table.
const TableName = "payarticles"

// articleRow is the payarticles row. relevance_score is nullable.
type articleRow struct {
	ID             string    `gorm:"column:id;type:uuid;primaryKey"`
	Title          string    `gorm:"column:title;not null"`
	URL            string    `gorm:"column:url;not null"`
	Summary        string    `gorm:"column:summary;not null"`
	RelevanceScore *float64  `gorm:"column:relevance_score"`
	FetchedAt      time.Time `gorm:"column:fetched_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

func (articleRow) TableName() string { return TableName }

func rowFromArticle(a domain.Article) articleRow {
	r := articleRow{
		ID:        a.ID,
		Title:     a.Title,
		URL:       a.URL,
		Summary:   a.Summary,
		FetchedAt: a.FetchedAt,
		CreatedAt: a.CreatedAt,
	}
	if a.RelevanceScore != 0 {
		score := a.RelevanceScore
		r.RelevanceScore = &score
	}
	return r
}

func (r articleRow) article() domain.Article {
	a := domain.Article{
		ID:        r.ID,
		Title:     r.Title,
		URL:       r.URL,
		Summary:   r.Summary,
		FetchedAt: r.FetchedAt.UTC(),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.RelevanceScore != nil {
		a.RelevanceScore = *r.RelevanceScore
	}
	return a
}

// Postgres is the Remote backed by the payarticles table.
type Postgres struct {
	repo  *repo.GormRepo[articleRow, string]
	now   func() time.Time
	newID func() string
}

// PostgresOptions configures OpenPostgres.
type PostgresOptions struct {
	// Migrate applies the embedded migrations before returning.
	Migrate bool
	// Trace registers the otelgorm plugin.
	Trace    bool
	MaxConns int
	Logger   *slog.Logger
}

// OpenPostgres connects to dsn and returns the remote and its handle.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*Postgres, *gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("store: postgres handle: %w", err)
	}
	if opts.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxConns)
		sqlDB.SetMaxIdleConns(opts.MaxConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	if opts.Trace {
		if err := db.Use(otelgorm.NewPlugin(
			otelgorm.WithDBName("postgresql"),
			otelgorm.WithoutQueryVariables(),
		)); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("store: register tracing: %w", err)
		}
	}
	if opts.Migrate {
		if err := Migrate(sqlDB, opts.Logger); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
	}
	return NewPostgres(db), db, nil
}

// NewPostgres wraps an open gorm handle.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{
		repo:  repo.NewGormRepo[articleRow, string](db),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (p *Postgres) List(ctx context.Context) ([]domain.Article, error) {
	rows, err := p.repo.List(ctx, repo.ListOpts{Order: "created_at desc"})
	if err != nil {
		return nil, fmt.Errorf("store: select %s: %w", TableName, err)
	}
	out := make([]domain.Article, len(rows))
	for i, r := range rows {
		out[i] = r.article()
	}
	return out, nil
}

func (p *Postgres) Insert(ctx context.Context, d domain.Draft) (domain.Article, error) {
	now := p.now().UTC()
	if d.FetchedAt.IsZero() {
		d.FetchedAt = now
	}
	row, err := p.repo.Create(ctx, rowFromArticle(d.Article(p.newID(), now)))
	if err != nil {
		return domain.Article{}, fmt.Errorf("store: insert %s: %w", TableName, err)
	}
	return row.article(), nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	err := p.repo.Delete(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", TableName, err)
	}
	return nil
}

// Migrate applies the embedded migrations to db.
func Migrate(db *sql.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	driver, err := mpg.WithInstance(db, &mpg.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: migration up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("store: migration version: %w", err)
	}
	log.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}
