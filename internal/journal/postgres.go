package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// exchangeRow is the GORM model behind the exchanges table.
type exchangeRow struct {
	ID         string `gorm:"primaryKey;type:uuid"`
	Protocol   string `gorm:"size:8;index"`
	Command    string `gorm:"size:32;index"`
	Peer       string `gorm:"size:64"`
	BytesIn    int
	BytesOut   int
	Replies    int
	Error      string
	StartedAt  time.Time `gorm:"index"`
	DurationUS int64
}

func (exchangeRow) TableName() string { return "exchanges" }

func toRow(ex Exchange) exchangeRow {
	return exchangeRow{
		ID:         ex.ID,
		Protocol:   string(ex.Protocol),
		Command:    string(ex.Command),
		Peer:       ex.Peer,
		BytesIn:    ex.BytesIn,
		BytesOut:   ex.BytesOut,
		Replies:    ex.Replies,
		Error:      ex.Error,
		StartedAt:  ex.StartedAt,
		DurationUS: ex.Duration.Microseconds(),
	}
}

const (
	postgresQueueSize  = 1024
	postgresBatchSize  = 100
	postgresFlushEvery = 2 * time.Second
)

// Postgres queues exchanges and writes them in batches from a background
// goroutine. When the queue is full the exchange is dropped and counted;
// the fixture loop never blocks on the database.
type Postgres struct {
	db        *gorm.DB
	writeChan chan exchangeRow
	stopChan  chan struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger
	dropped   atomic.Int64
	closed    atomic.Bool
}

// OpenPostgres validates dsn, opens it through GORM and migrates the
// exchanges table.
func OpenPostgres(dsn string) (*Postgres, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	p, err := NewPostgres(db)
	if err != nil {
		return nil, err
	}
	p.logger.Info("postgres_journal_ready",
		"host", connCfg.Host,
		"database", connCfg.Database,
	)
	return p, nil
}

// NewPostgres wraps an open GORM handle and starts the batch writer.
func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&exchangeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate exchanges table: %w", err)
	}

	p := &Postgres{
		db:        db,
		writeChan: make(chan exchangeRow, postgresQueueSize),
		stopChan:  make(chan struct{}),
		logger:    slog.Default(),
	}
	p.wg.Add(1)
	go p.batchWriter()
	return p, nil
}

func (p *Postgres) Record(_ context.Context, ex Exchange) error {
	if p.closed.Load() {
		return fmt.Errorf("postgres journal is closed")
	}
	select {
	case p.writeChan <- toRow(ex):
		return nil
	default:
		p.dropped.Add(1)
		return fmt.Errorf("postgres journal queue full, exchange %s dropped", ex.ID)
	}
}

// Dropped is the number of exchanges lost to a full queue.
func (p *Postgres) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Postgres) batchWriter() {
	defer p.wg.Done()

	ticker := time.NewTicker(postgresFlushEvery)
	defer ticker.Stop()

	batch := make([]exchangeRow, 0, postgresBatchSize)
	for {
		select {
		case row := <-p.writeChan:
			batch = append(batch, row)
			if len(batch) >= postgresBatchSize {
				batch = p.flush(batch)
			}
		case <-ticker.C:
			batch = p.flush(batch)
		case <-p.stopChan:
			// drain whatever is still queued
			for {
				select {
				case row := <-p.writeChan:
					batch = append(batch, row)
				default:
					p.flush(batch)
					return
				}
			}
		}
	}
}

func (p *Postgres) flush(batch []exchangeRow) []exchangeRow {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.db.WithContext(ctx).CreateInBatches(batch, postgresBatchSize).Error; err != nil {
		p.logger.Error("postgres_batch_write_failed",
			"batch_size", len(batch),
			"error", err,
		)
	} else {
		p.logger.Debug("postgres_batch_written",
			"batch_size", len(batch),
		)
	}
	return batch[:0]
}

// Close stops the writer after flushing queued exchanges.
func (p *Postgres) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.stopChan)
	p.wg.Wait()

	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
