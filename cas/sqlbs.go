package cas

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/opentelemetry/tracing"
)

// StoredBlock is one row of the blocks table.
type StoredBlock struct {
	Cid       string `gorm:"primaryKey"`
	Data      []byte
	CreatedAt time.Time
}

func (StoredBlock) TableName() string {
	return "blocks"
}

// SQLBlockstore keeps blocks in a sqlite or postgres table.
type SQLBlockstore struct {
	db *gorm.DB
}

// OpenDatabase connects to sqlite:// or postgres:// URLs.
func OpenDatabase(dburl string, maxConnections int) (*gorm.DB, error) {
	var dial gorm.Dialector

	isSqlite := false
	openConns := maxConnections
	if strings.HasPrefix(dburl, "sqlite://") {
		sqliteSuffix := dburl[len("sqlite://"):]
		// if this isn't ":memory:", ensure that directory exists
		if !strings.Contains(sqliteSuffix, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(sqliteSuffix), os.ModePerm); err != nil {
				return nil, err
			}
		}
		dial = sqlite.Open(sqliteSuffix)
		openConns = 1
		isSqlite = true
	} else if strings.HasPrefix(dburl, "postgresql://") || strings.HasPrefix(dburl, "postgres://") {
		dial = postgres.Open(dburl)
	} else {
		return nil, fmt.Errorf("unsupported or unrecognized database URL scheme: %s", dburl)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxIdleConns(10)
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
	}

	return db, nil
}

// NewSQLBlockstore migrates the blocks table and returns a blockstore over it.
func NewSQLBlockstore(db *gorm.DB) (*SQLBlockstore, error) {
	if err := db.AutoMigrate(&StoredBlock{}); err != nil {
		return nil, fmt.Errorf("migrating blocks table: %w", err)
	}
	return &SQLBlockstore{db: db}, nil
}

var _ blockstore.Blockstore = (*SQLBlockstore)(nil)

func (bs *SQLBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return bs.db.WithContext(ctx).Delete(&StoredBlock{}, "cid = ?", c.String()).Error
}

func (bs *SQLBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	var count int64
	if err := bs.db.WithContext(ctx).Model(&StoredBlock{}).Where("cid = ?", c.String()).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (bs *SQLBlockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	var row StoredBlock
	err := bs.db.WithContext(ctx).Where("cid = ?", c.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ipld.ErrNotFound{Cid: c}
	}
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(row.Data, c)
}

func (bs *SQLBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	blk, err := bs.Get(ctx, c)
	if err != nil {
		return -1, err
	}
	return len(blk.RawData()), nil
}

func (bs *SQLBlockstore) Put(ctx context.Context, blk blocks.Block) error {
	return bs.PutMany(ctx, []blocks.Block{blk})
}

func (bs *SQLBlockstore) PutMany(ctx context.Context, blks []blocks.Block) error {
	if len(blks) == 0 {
		return nil
	}
	rows := make([]StoredBlock, 0, len(blks))
	for _, blk := range blks {
		rows = append(rows, StoredBlock{
			Cid:  blk.Cid().String(),
			Data: blk.RawData(),
		})
	}
	// identical content always has identical bytes, so conflicts are no-ops
	return bs.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (bs *SQLBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	var keys []string
	if err := bs.db.WithContext(ctx).Model(&StoredBlock{}).Pluck("cid", &keys).Error; err != nil {
		return nil, err
	}
	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		for _, k := range keys {
			c, err := cid.Decode(k)
			if err != nil {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (bs *SQLBlockstore) HashOnRead(enabled bool) {
}
