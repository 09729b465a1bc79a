package lakehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Connections maps each query_database connection to its local warehouse file.
var Connections = []string{"sap_hana", "oracle", "sqlserver", "snowflake"}

// DefaultMaxRows caps query_database results when max_rows is not given.
const DefaultMaxRows = 1000

// sourceAliases maps source system names onto warehouse connections.
var sourceAliases = map[string]string{
	"sap":        "sap_hana",
	"sap_ecc":    "sap_hana",
	"sap_hana":   "sap_hana",
	"oracle":     "oracle",
	"oracle_crm": "oracle",
	"sqlserver":  "sqlserver",
	"sql_server": "sqlserver",
	"mssql":      "sqlserver",
	"snowflake":  "snowflake",
}

var (
	// ErrUnknownConnection is returned for sources with no warehouse file.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNotReadOnly is returned for statements that could modify data.
	ErrNotReadOnly = errors.New("only read-only statements are allowed")

	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type queryDatabaseArgs struct {
	Connection string `json:"connection" jsonschema:"enum=sap_hana,enum=oracle,enum=sqlserver,enum=snowflake" jsonschema_description:"Target database connection"`
	SQL        string `json:"sql" jsonschema_description:"SQL query to execute"`
	MaxRows    int    `json:"max_rows,omitempty" jsonschema:"default=1000,minimum=1"`
}

type queryDatabaseResult struct {
	Status     string   `json:"status"`
	Connection string   `json:"connection"`
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	Truncated  bool     `json:"truncated"`
}

func (k *Toolkit) queryDatabase(ctx context.Context, in queryDatabaseArgs) (any, error) {
	if err := checkReadOnly(in.SQL); err != nil {
		return nil, err
	}
	maxRows := in.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	db, err := k.openWarehouse(in.Connection)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, in.SQL)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", in.Connection, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &queryDatabaseResult{Status: "success", Connection: in.Connection, Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

type profileArgs struct {
	Source string `json:"source" jsonschema_description:"Source system name"`
	Table  string `json:"table" jsonschema_description:"Table name to profile"`
}

// ColumnProfile describes one profiled column.
type ColumnProfile struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Nullable    bool    `json:"nullable"`
	PrimaryKey  bool    `json:"primary_key"`
	NullRate    float64 `json:"null_rate"`
	Cardinality int64   `json:"cardinality"`
}

// Profile is the result of profile_data_source.
type Profile struct {
	Source     string             `json:"source"`
	Connection string             `json:"connection"`
	Table      string             `json:"table"`
	RowCount   int64              `json:"row_count"`
	Columns    []ColumnProfile    `json:"columns"`
	NullRates  map[string]float64 `json:"null_rates"`
}

func (k *Toolkit) profileDataSource(ctx context.Context, in profileArgs) (any, error) {
	conn, err := ConnectionFor(in.Source)
	if err != nil {
		return nil, err
	}
	if !identifierRe.MatchString(in.Table) {
		return nil, fmt.Errorf("invalid table name %q", in.Table)
	}

	db, err := k.openWarehouse(conn)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	p := &Profile{Source: in.Source, Connection: conn, Table: in.Table, NullRates: map[string]float64{}}

	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(in.Table)+")")
	if err != nil {
		return nil, fmt.Errorf("read schema of %s: %w", in.Table, err)
	}
	for rows.Next() {
		var (
			cid     int
			col     ColumnProfile
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		col.Nullable = notNull == 0
		col.PrimaryKey = pk > 0
		p.Columns = append(p.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(p.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found in %s", in.Table, conn)
	}

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(in.Table)).Scan(&p.RowCount); err != nil {
		return nil, fmt.Errorf("count rows of %s: %w", in.Table, err)
	}

	for i := range p.Columns {
		col := &p.Columns[i]
		var nulls int64
		ident := quoteIdent(col.Name)
		q := fmt.Sprintf("SELECT COUNT(*) - COUNT(%s), COUNT(DISTINCT %s) FROM %s", ident, ident, quoteIdent(in.Table))
		if err := db.QueryRowContext(ctx, q).Scan(&nulls, &col.Cardinality); err != nil {
			return nil, fmt.Errorf("profile column %s: %w", col.Name, err)
		}
		if p.RowCount > 0 {
			col.NullRate = float64(nulls) / float64(p.RowCount)
		}
		p.NullRates[col.Name] = col.NullRate
	}
	return p, nil
}

// ConnectionFor maps a source system name ("SAP ECC", "oracle-crm") onto a
// warehouse connection.
func ConnectionFor(source string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(source))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if conn, ok := sourceAliases[key]; ok {
		return conn, nil
	}
	return "", fmt.Errorf("%w %q: known connections are %s", ErrUnknownConnection, source, strings.Join(Connections, ", "))
}

// WarehousePath returns the SQLite file backing a connection.
func WarehousePath(warehouseDir, connection string) string {
	return filepath.Join(warehouseDir, connection+".db")
}

// openWarehouse opens a connection's warehouse file read-only.
func (k *Toolkit) openWarehouse(connection string) (*sql.DB, error) {
	if !knownConnection(connection) {
		return nil, fmt.Errorf("%w %q: known connections are %s", ErrUnknownConnection, connection, strings.Join(Connections, ", "))
	}
	if k.env.WarehouseDir == "" {
		return nil, fmt.Errorf("no warehouse directory configured")
	}
	path := WarehousePath(k.env.WarehouseDir, connection)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("warehouse for %s not available at %s: %w", connection, path, err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", connection, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func knownConnection(c string) bool {
	i := sort.SearchStrings(sortedConnections, c)
	return i < len(sortedConnections) && sortedConnections[i] == c
}

var sortedConnections = func() []string {
	s := append([]string(nil), Connections...)
	sort.Strings(s)
	return s
}()

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// checkReadOnly accepts a single SELECT, WITH, PRAGMA or EXPLAIN statement.
func checkReadOnly(query string) error {
	q := strings.TrimSpace(stripSQLComments(query))
	q = strings.TrimSuffix(q, ";")
	if q == "" {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}
	if strings.Contains(q, ";") {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	first := strings.ToUpper(strings.Fields(q)[0])
	switch first {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN":
		return nil
	default:
		return fmt.Errorf("%w: got %s", ErrNotReadOnly, first)
	}
}

// stripSQLComments removes leading "--" line comments and "/* */" blocks.
func stripSQLComments(q string) string {
	for {
		q = strings.TrimSpace(q)
		switch {
		case strings.HasPrefix(q, "--"):
			nl := strings.IndexByte(q, '\n')
			if nl < 0 {
				return ""
			}
			q = q[nl+1:]
		case strings.HasPrefix(q, "/*"):
			end := strings.Index(q, "*/")
			if end < 0 {
				return ""
			}
			q = q[end+2:]
		default:
			return q
		}
	}
}
