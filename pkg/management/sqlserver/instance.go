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

package sqlserver

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the port of a default SQL Server instance.
const DefaultPort = 1433

// Instance is a parsed SQL Server address. The accepted forms are
// "host", "host\instance", "host,port" and "host:port".
type Instance struct {
	Host         string
	InstanceName string
	Port         int
}

// ParseInstance parses an instance address.
func ParseInstance(address string) (Instance, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Instance{}, fmt.Errorf("empty instance address")
	}

	var instance Instance
	host := address

	if idx := strings.IndexAny(host, ",:"); idx >= 0 {
		port, err := strconv.Atoi(host[idx+1:])
		if err != nil || port <= 0 || port > 65535 {
			return Instance{}, fmt.Errorf("invalid port in instance address %q", address)
		}
		instance.Port = port
		host = host[:idx]
	}

	if idx := strings.Index(host, `\`); idx >= 0 {
		instance.InstanceName = host[idx+1:]
		host = host[:idx]
		if instance.InstanceName == "" {
			return Instance{}, fmt.Errorf("empty instance name in address %q", address)
		}
	}

	if host == "" || host == "." || strings.EqualFold(host, "(local)") {
		host = "localhost"
	}
	instance.Host = host

	return instance, nil
}

// Credentials are the login used to connect. An empty Username lets the
// driver use integrated authentication.
type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ConnectionOptions tune how the connection string is built.
type ConnectionOptions struct {
	Credentials Credentials
	// Encrypt is the driver "encrypt" setting: "true", "false" or "disable".
	Encrypt                string
	TrustServerCertificate bool
	ConnectTimeout         time.Duration
	ApplicationName        string
}

// DataSourceName builds the sqlserver:// URL understood by the driver.
func (i Instance) DataSourceName(opts ConnectionOptions) string {
	query := url.Values{}
	query.Set("database", "master")

	appName := opts.ApplicationName
	if appName == "" {
		appName = "dbshrink"
	}
	query.Set("app name", appName)

	if opts.Encrypt != "" {
		query.Set("encrypt", opts.Encrypt)
	}
	if opts.TrustServerCertificate {
		query.Set("TrustServerCertificate", "true")
	}
	if opts.ConnectTimeout > 0 {
		query.Set("connection timeout", strconv.Itoa(int(opts.ConnectTimeout.Seconds())))
	}

	host := i.Host
	if i.Port > 0 {
		host = net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     host,
		RawQuery: query.Encode(),
	}
	if i.InstanceName != "" && i.Port == 0 {
		u.Path = i.InstanceName
	}
	if opts.Credentials.Username != "" {
		u.User = url.UserPassword(opts.Credentials.Username, opts.Credentials.Password)
	}

	return u.String()
}
