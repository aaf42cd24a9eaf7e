package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"bus-simulator/internal/transit"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// Store reads routes, stops and bus assignments from either PostgreSQL or a
// SQLite file holding the same tables.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open picks the driver from the DSN: postgres:// URLs and key=value strings
// go to pgx, sqlite://path, file: URIs and *.db files go to SQLite.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty DSN")
	}
	dialect, source := parseDSN(dsn)
	if dialect == SQLite {
		db, err := sql.Open("sqlite", source)
		if err != nil {
			return nil, err
		}
		// a single connection avoids SQLITE_BUSY between readers and fixtures
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
		return &Store{db: db, dialect: SQLite}, nil
	}
	db, err := sql.Open("pgx", source)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, dialect: Postgres}, nil
}

func parseDSN(dsn string) (Dialect, string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return SQLite, withBusyTimeout(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"),
		strings.HasSuffix(dsn, ".db"),
		strings.HasSuffix(dsn, ".sqlite"),
		dsn == ":memory:":
		return SQLite, withBusyTimeout(dsn)
	}
	return Postgres, dsn
}

func withBusyTimeout(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)"
}

func (s *Store) DB() *sql.DB      { return s.db }
func (s *Store) Dialect() Dialect { return s.dialect }
func (s *Store) Close() error     { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables read by the simulator if they are missing.
// Used for local SQLite fixtures; production databases own their schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ph returns the n-th (1-based) bind placeholder for the dialect.
func (s *Store) ph(n int) string {
	if s.dialect == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// FetchRoutes returns active routes ordered by id.
func (s *Store) FetchRoutes(ctx context.Context) ([]transit.Route, error) {
	q := `SELECT CAST(id AS TEXT), COALESCE(route_number, ''), COALESCE(route_name, '')
FROM routes WHERE is_active ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []transit.Route
	for rows.Next() {
		var r transit.Route
		if err := rows.Scan(&r.ID, &r.Number, &r.Name); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// FetchRouteStops returns the stops of a route in travel order.
func (s *Store) FetchRouteStops(ctx context.Context, routeID string) ([]transit.Stop, error) {
	q := `SELECT CAST(id AS TEXT), stop_order, stop_name, latitude, longitude,
       COALESCE(estimated_arrival_time, '')
FROM stops
WHERE CAST(route_id AS TEXT) = ` + s.ph(1) + `
ORDER BY stop_order, id`
	rows, err := s.db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query stops for route %s: %w", routeID, err)
	}
	defer rows.Close()

	var stops []transit.Stop
	for rows.Next() {
		var st transit.Stop
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&st.ID, &st.Order, &st.Name, &lat, &lon, &st.ScheduledArrival); err != nil {
			return nil, err
		}
		if lat.Valid {
			v := lat.Float64
			st.Latitude = &v
		}
		if lon.Valid {
			v := lon.Float64
			st.Longitude = &v
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

// FetchAssignments returns every active bus serving an active route.
func (s *Store) FetchAssignments(ctx context.Context) ([]transit.Assignment, error) {
	q := `SELECT CAST(b.id AS TEXT), COALESCE(b.bus_number, ''), CAST(r.id AS TEXT)
FROM routes r
JOIN buses b ON b.id = r.bus_id
WHERE r.is_active AND b.is_active
ORDER BY r.id, b.id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []transit.Assignment
	for rows.Next() {
		var a transit.Assignment
		if err := rows.Scan(&a.BusID, &a.BusNumber, &a.RouteID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
