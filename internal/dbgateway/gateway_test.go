package dbgateway

import (
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestRequireNonEmpty(t *testing.T) {
	if err := requireNonEmpty("", nil, false); err == nil {
		t.Error("expected UsageError for empty table name")
	}
	if err := requireNonEmpty("versions", map[string]any{}, true); err == nil {
		t.Error("expected UsageError for empty value map")
	}
	if err := requireNonEmpty("versions", nil, false); err != nil {
		t.Errorf("select/delete without a value map should not need one: %v", err)
	}
	if err := requireNonEmpty("versions", map[string]any{"downloaded": 1}, true); err != nil {
		t.Errorf("non-empty values should pass: %v", err)
	}
}

func TestConjunctiveClause(t *testing.T) {
	clause, args := conjunctiveClause(map[string]any{"project": "TYPO3", "id": 7})
	if clause != "id = ? AND project = ?" {
		t.Errorf("expected sorted AND clause, got %q", clause)
	}
	if len(args) != 2 || args[0] != 7 || args[1] != "TYPO3" {
		t.Errorf("unexpected args: %v", args)
	}

	emptyClause, emptyArgs := conjunctiveClause(nil)
	if emptyClause != "" || emptyArgs != nil {
		t.Errorf("expected empty clause for nil predicate, got %q %v", emptyClause, emptyArgs)
	}
}

func TestIsConnectionLost(t *testing.T) {
	goneAway := &mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"}
	if !isConnectionLost(goneAway) {
		t.Error("expected error 2006 to be classified as connection loss")
	}

	lostDuringQuery := &mysql.MySQLError{Number: 2013, Message: "Lost connection to MySQL server during query"}
	if !isConnectionLost(lostDuringQuery) {
		t.Error("expected error 2013 to be classified as connection loss")
	}

	duplicateKey := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if isConnectionLost(duplicateKey) {
		t.Error("a constraint violation must not trigger a reconnect")
	}
}

// TestCredentialsDSNDoesNotSwapHostAndPort guards the reconnect path: it
// must never pass the host value where the port belongs.
func TestCredentialsDSNDoesNotSwapHostAndPort(t *testing.T) {
	creds := Credentials{Host: "db.internal", Port: 3307, User: "jacobine", Password: "secret", Database: "typo3"}
	cfg, err := mysql.ParseDSN(creds.dsn())
	if err != nil {
		t.Fatalf("dsn did not parse: %v", err)
	}
	if cfg.Addr != "db.internal:3307" {
		t.Errorf("expected addr %q, got %q", "db.internal:3307", cfg.Addr)
	}
}

func TestDatabaseErrorWrapsDriverCode(t *testing.T) {
	err := wrapDatabaseError(&mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"})
	dbErr, ok := err.(*DatabaseError)
	if !ok {
		t.Fatalf("expected *DatabaseError, got %T", err)
	}
	if dbErr.Code != 1146 {
		t.Errorf("expected code 1146, got %d", dbErr.Code)
	}
}
