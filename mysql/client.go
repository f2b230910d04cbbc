package mysql

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	_ "github.com/go-sql-driver/mysql"
)

var logger = logrus.WithFields(logrus.Fields{"component": "mysql"})

// Open connects to MySQL using the given DSN, retrying the initial ping
// with an exponential backoff so the server can come up before the database
// container finishes its own startup.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second

	pingErr := backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			logger.WithError(err).Warn("mysql ping failed, retrying")
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if pingErr != nil {
		db.Close()
		return nil, pingErr
	}

	return db, nil
}
