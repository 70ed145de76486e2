/*
Copyright © contributors to dbshrink.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package sqlserver implements the shrink collaborators on top of a
// Microsoft SQL Server connection.
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloudnative-pg/machinery/pkg/log"
	// registers the "sqlserver" database/sql driver
	_ "github.com/microsoft/go-mssqldb"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/pkg/shrink"
)

const (
	driverName = "sqlserver"

	// DefaultConnectAttempts is how many times a connection is tried.
	DefaultConnectAttempts = 3

	// DefaultConnectRetryDelay is the base delay between connection attempts.
	DefaultConnectRetryDelay = 2 * time.Second
)

// OpenFunc opens a database handle. It is sql.Open in production.
type OpenFunc func(driverName, dataSourceName string) (*sql.DB, error)

// Connector connects to SQL Server instances.
type Connector struct {
	options          ConnectionOptions
	statementTimeout time.Duration
	attempts         uint
	retryDelay       time.Duration
	open             OpenFunc
}

// ConnectorOption customizes a Connector.
type ConnectorOption func(*Connector)

// WithStatementTimeout bounds every statement sent to the server.
// Zero disables the bound.
func WithStatementTimeout(timeout time.Duration) ConnectorOption {
	return func(c *Connector) {
		c.statementTimeout = timeout
	}
}

// WithConnectRetries sets the number of connection attempts and the base delay between them.
func WithConnectRetries(attempts uint, delay time.Duration) ConnectorOption {
	return func(c *Connector) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.retryDelay = delay
	}
}

// WithOpenFunc replaces sql.Open. This is intended for testing.
func WithOpenFunc(open OpenFunc) ConnectorOption {
	return func(c *Connector) {
		c.open = open
	}
}

// NewConnector creates a Connector with the given connection options.
func NewConnector(options ConnectionOptions, opts ...ConnectorOption) *Connector {
	c := &Connector{
		options:    options,
		attempts:   DefaultConnectAttempts,
		retryDelay: DefaultConnectRetryDelay,
		open:       sql.Open,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens and verifies a connection to the given instance.
func (c *Connector) Connect(ctx context.Context, address string) (shrink.Server, error) {
	contextLogger := log.FromContext(ctx).WithValues("instance", address)

	instance, err := ParseInstance(address)
	if err != nil {
		return nil, err
	}

	db, err := c.open(driverName, instance.DataSourceName(c.options))
	if err != nil {
		return nil, fmt.Errorf("while opening connection: %w", err)
	}

	err = retry.Do(
		func() error {
			return db.PingContext(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			contextLogger.Warning("connection attempt failed, retrying",
				"attempt", n+1,
				"error", err)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("while pinging server: %w", err)
	}

	server, err := NewServer(ctx, db, address, c.statementTimeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return server, nil
}

// Server is a connected SQL Server instance.
type Server struct {
	db               *sql.DB
	name             string
	computerName     string
	instanceName     string
	version          string
	statementTimeout time.Duration
}

// NewServer wraps an open database handle and reads the server properties.
func NewServer(ctx context.Context, db *sql.DB, name string, statementTimeout time.Duration) (*Server, error) {
	s := &Server{
		db:               db,
		name:             name,
		statementTimeout: statementTimeout,
	}

	stmtCtx, cancel := s.statementContext(ctx)
	defer cancel()

	row := db.QueryRowContext(stmtCtx, serverPropertiesQuery)
	if err := row.Scan(&s.version, &s.computerName, &s.instanceName); err != nil {
		return nil, fmt.Errorf("while reading server properties: %w", err)
	}

	log.FromContext(ctx).Debug("connected to server",
		"instance", name,
		"computerName", s.computerName,
		"version", s.version)

	return s, nil
}

// ComputerName implements shrink.Server.
func (s *Server) ComputerName() string {
	return s.computerName
}

// InstanceName implements shrink.Server.
func (s *Server) InstanceName() string {
	return s.instanceName
}

// Name implements shrink.Server.
func (s *Server) Name() string {
	return s.name
}

// Version returns the product version reported by the server.
func (s *Server) Version() string {
	return s.version
}

// SupportsFragmentation implements shrink.Server.
func (s *Server) SupportsFragmentation() bool {
	return SupportsIndexPhysicalStats(s.version)
}

// Close implements shrink.Server.
func (s *Server) Close() error {
	return s.db.Close()
}

// Databases implements shrink.Server.
func (s *Server) Databases(ctx context.Context) ([]shrink.Database, error) {
	stmtCtx, cancel := s.statementContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(stmtCtx, listDatabasesQuery)
	if err != nil {
		return nil, fmt.Errorf("while listing databases: %w", err)
	}
	defer rows.Close()

	var databases []shrink.Database
	for rows.Next() {
		db := &Database{server: s}
		var databaseID, snapshot, accessible int
		var state string
		if err := rows.Scan(&db.name, &databaseID, &snapshot, &state, &accessible); err != nil {
			return nil, fmt.Errorf("while reading database list: %w", err)
		}
		db.system = databaseID <= maxSystemDatabaseID
		db.snapshot = snapshot != 0
		db.accessible = state == "ONLINE" && accessible != 0
		databases = append(databases, db)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("while reading database list: %w", err)
	}

	return databases, nil
}

// Fragmentation implements shrink.Server.
func (s *Server) Fragmentation(ctx context.Context, database string) (apiv1.FragmentationSample, error) {
	stmtCtx, cancel := s.statementContext(ctx)
	defer cancel()

	return queryFragmentation(stmtCtx, s.db, database)
}

// statementContext applies the statement timeout, if any.
func (s *Server) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.statementTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.statementTimeout)
}

// inDatabase runs fn on a dedicated connection switched to the given database.
func (s *Server) inDatabase(
	ctx context.Context,
	database string,
	fn func(ctx context.Context, conn *sql.Conn) error,
) error {
	stmtCtx, cancel := s.statementContext(ctx)
	defer cancel()

	conn, err := s.db.Conn(stmtCtx)
	if err != nil {
		return fmt.Errorf("while acquiring connection: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if _, err := conn.ExecContext(stmtCtx, "USE "+QuoteName(database)); err != nil {
		return fmt.Errorf("while switching to database %s: %w", database, err)
	}

	return fn(stmtCtx, conn)
}
