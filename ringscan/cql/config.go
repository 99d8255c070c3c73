package cql

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// ClientConfig holds configuration for connecting to a Cassandra-compatible
// cluster.
type ClientConfig struct {
	// Hosts are the contact points (required).
	Hosts []string

	// Port is the native protocol port. Zero uses the driver default (9042).
	Port int

	// Keyspace is an optional default keyspace for the session.
	Keyspace string

	// Username and Password enable password authentication when Username is set.
	Username string
	Password string

	// Consistency is the read consistency level, e.g. "LOCAL_QUORUM".
	// Empty uses the driver default.
	Consistency string

	// Timeout bounds each query. Zero uses the driver default.
	Timeout time.Duration

	// ConnectTimeout bounds connection setup. Zero uses the driver default.
	ConnectTimeout time.Duration

	// ProtoVersion pins the native protocol version. Zero negotiates.
	ProtoVersion int

	// PageSize is the number of rows fetched per page. Zero uses the driver default.
	PageSize int

	// Partitioner overrides the partitioner reported by system.local.
	// Accepts full or short class names, e.g. "Murmur3Partitioner".
	Partitioner string

	// CAPath enables TLS with the given CA certificate file.
	CAPath string
}

// NewCluster builds a gocql cluster configuration.
//
// For a local node:
//
//	cluster, err := cql.NewCluster(cql.ClientConfig{
//	    Hosts: []string{"127.0.0.1"},
//	})
//
// For an authenticated cluster:
//
//	cluster, err := cql.NewCluster(cql.ClientConfig{
//	    Hosts:       []string{"10.0.0.1", "10.0.0.2"},
//	    Username:    "reader",
//	    Password:    "secret",
//	    Consistency: "LOCAL_QUORUM",
//	})
func NewCluster(cfg ClientConfig) (*gocql.ClusterConfig, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("cql: at least one host is required")
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port != 0 {
		cluster.Port = cfg.Port
	}
	if cfg.Keyspace != "" {
		cluster.Keyspace = cfg.Keyspace
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("cql: consistency: %w", err)
		}
		cluster.Consistency = c
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ProtoVersion != 0 {
		cluster.ProtoVersion = cfg.ProtoVersion
	}
	if cfg.PageSize > 0 {
		cluster.PageSize = cfg.PageSize
	}
	if cfg.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 cfg.CAPath,
			EnableHostVerification: true,
		}
	}

	return cluster, nil
}
