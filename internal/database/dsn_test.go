package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "sponsor", Name: "registry"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=sponsor dbname=registry application_name=sponsor-registry sslmode=disable", dsn)

	dsn, err = buildPostgresDSN(Config{
		User:     "svc",
		Name:     "params",
		Host:     "pg.internal",
		Port:     6543,
		Password: "pw",
		Options:  map[string]string{"sslmode": "verify-full", "application_name": "sponsor"},
	})
	require.NoError(t, err)
	require.Equal(t,
		"host=pg.internal port=6543 user=svc dbname=params password=pw application_name=sponsor sslmode=verify-full",
		dsn,
	)

	dsn, err = buildPostgresDSN(Config{DSN: "postgres://override"})
	require.NoError(t, err)
	require.Equal(t, "postgres://override", dsn)

	_, err = buildPostgresDSN(Config{Host: "pg.internal"})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "sponsor", Name: "registry"})
	require.NoError(t, err)
	require.Equal(t, "sponsor@tcp(127.0.0.1:3306)/registry?charset=utf8mb4&collation=utf8mb4_bin&loc=Local&parseTime=True", dsn)

	dsn, err = buildMySQLDSN(Config{
		User:     "svc",
		Password: "pw",
		Name:     "params",
		Host:     "mysql.internal",
		Port:     3307,
		Options:  map[string]string{"tls": "true"},
	})
	require.NoError(t, err)
	require.Equal(t, "svc:pw@tcp(mysql.internal:3307)/params?charset=utf8mb4&collation=utf8mb4_bin&loc=Local&parseTime=True&tls=true", dsn)

	_, err = buildMySQLDSN(Config{Host: "mysql.internal"})
	require.Error(t, err)
}
