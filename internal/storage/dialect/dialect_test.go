package dialect

import (
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		dialectType DialectType
		wantName    string
		wantErr     bool
	}{
		{"sqlite", SQLite, "sqlite", false},
		{"postgres", Postgres, "postgres", false},
		{"mysql", MySQL, "mysql", false},
		{"unknown", DialectType("unknown"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.dialectType)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
		})
	}
}

func TestFromDriverName(t *testing.T) {
	tests := []struct {
		driverName string
		wantName   string
		wantErr    bool
	}{
		{"sqlite", "sqlite", false},
		{"sqlite3", "sqlite", false},
		{"postgres", "postgres", false},
		{"postgresql", "postgres", false},
		{"pgx", "postgres", false},
		{"mysql", "mysql", false},
		{"unknown", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driverName, func(t *testing.T) {
			d, err := FromDriverName(tt.driverName)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromDriverName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
		})
	}
}

func TestSQLiteDialect_Rebind(t *testing.T) {
	d := &sqliteDialect{}
	query := "SELECT * FROM users WHERE id = ? AND name = ?"
	got := d.Rebind(query)
	if got != query {
		t.Errorf("Rebind() = %v, want %v", got, query)
	}
}

func TestPostgresDialect_Rebind(t *testing.T) {
	d := &postgresDialect{}
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM users WHERE id = ?", "SELECT * FROM users WHERE id = $1"},
		{"SELECT * FROM users WHERE id = ? AND name = ?", "SELECT * FROM users WHERE id = $1 AND name = $2"},
		{"INSERT INTO users VALUES (?, ?, ?)", "INSERT INTO users VALUES ($1, $2, $3)"},
		{"SELECT * FROM users", "SELECT * FROM users"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := d.Rebind(tt.query)
			if got != tt.want {
				t.Errorf("Rebind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMySQLDialect_Rebind(t *testing.T) {
	d := &mysqlDialect{}
	query := "SELECT * FROM users WHERE id = ? AND name = ?"
	got := d.Rebind(query)
	if got != query {
		t.Errorf("Rebind() = %v, want %v", got, query)
	}
}

func TestDialect_Quote(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		want    string
	}{
		{"sqlite", &sqliteDialect{}, `"key"`},
		{"postgres", &postgresDialect{}, `"key"`},
		{"mysql", &mysqlDialect{}, "`key`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Quote("key"); got != tt.want {
				t.Errorf("Quote() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDialect_Types(t *testing.T) {
	tests := []struct {
		name          string
		dialect       Dialect
		autoIncrement string
		timestampType string
		textType      string
	}{
		{"sqlite", &sqliteDialect{}, "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP", "TEXT"},
		{"postgres", &postgresDialect{}, "BIGSERIAL PRIMARY KEY", "TIMESTAMP WITH TIME ZONE", "TEXT"},
		{"mysql", &mysqlDialect{}, "BIGINT AUTO_INCREMENT PRIMARY KEY", "DATETIME(6)", "LONGTEXT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.AutoIncrementClause(); got != tt.autoIncrement {
				t.Errorf("AutoIncrementClause() = %v, want %v", got, tt.autoIncrement)
			}
			if got := tt.dialect.TimestampType(); got != tt.timestampType {
				t.Errorf("TimestampType() = %v, want %v", got, tt.timestampType)
			}
			if got := tt.dialect.TextType(); got != tt.textType {
				t.Errorf("TextType() = %v, want %v", got, tt.textType)
			}
		})
	}
}

func TestDialect_SupportsReturning(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		want    bool
	}{
		{"sqlite", &sqliteDialect{}, true},
		{"postgres", &postgresDialect{}, true},
		{"mysql", &mysqlDialect{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.SupportsReturning(); got != tt.want {
				t.Errorf("SupportsReturning() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDialect_PragmaStatements(t *testing.T) {
	sqliteD := &sqliteDialect{}
	pragmas := sqliteD.PragmaStatements()
	if len(pragmas) == 0 {
		t.Error("SQLite should have pragma statements")
	}

	pgD := &postgresDialect{}
	if pgD.PragmaStatements() != nil {
		t.Error("PostgreSQL should not have pragma statements")
	}

	mysqlD := &mysqlDialect{}
	if mysqlD.PragmaStatements() != nil {
		t.Error("MySQL should not have pragma statements")
	}
}
