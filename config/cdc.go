package config

import (
	cdcconfig "github.com/Trendyol/go-pq-cdc/config"
	"github.com/Trendyol/go-pq-cdc/logger"
	"github.com/Trendyol/go-pq-cdc/pq/publication"
	"github.com/Trendyol/go-pq-cdc/pq/slot"
)

// StreamConfig is the go-pq-cdc configuration for the stream capture method.
// It reads from the source endpoint through the task's slot and a publication
// covering every tracked table.
func (c *Config) StreamConfig(l logger.Logger) cdcconfig.Config {
	tables := make(publication.Tables, 0, len(c.Tables))
	for _, t := range c.Tables {
		tables = append(tables, publication.Table{
			Name:            t.Table,
			Schema:          t.Schema,
			ReplicaIdentity: publication.ReplicaIdentityFull,
		})
	}
	return cdcconfig.Config{
		Host:     c.Source.Host,
		Port:     c.Source.Port,
		Username: c.Source.User,
		Password: c.Source.ResolvePassword(),
		Database: c.Source.Database,
		Publication: publication.Config{
			CreateIfNotExists: true,
			Name:              c.Task.Stream.PublicationName,
			Operations: publication.Operations{
				publication.OperationInsert,
				publication.OperationUpdate,
				publication.OperationDelete,
			},
			Tables: tables,
		},
		Slot: slot.Config{
			CreateIfNotExists:           true,
			Name:                        c.SlotName(),
			SlotActivityCheckerInterval: 3000,
		},
		Metric: cdcconfig.MetricConfig{Port: c.Task.Stream.MetricPort},
		Logger: cdcconfig.LoggerConfig{Logger: l},
	}
}
