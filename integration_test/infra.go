package integration

import (
	"context"
	"fmt"
	"strconv"

	"github.com/testcontainers/testcontainers-go"
)

const (
	sourceDatabase = "hr"
	targetDatabase = "dw"
	dbUser         = "replicator"
	dbPassword     = "replicator_pass"
)

type TestInfrastructure struct {
	PostgresContainer testcontainers.Container
	RabbitContainer   testcontainers.Container
	PostgresHost      string
	PostgresPort      string
	RabbitHost        string
	RabbitPort        string
	RabbitMgmtPort    string
}

func (ti *TestInfrastructure) PostgresPortNumber() int {
	n, _ := strconv.Atoi(ti.PostgresPort)
	return n
}

func (ti *TestInfrastructure) DSN(database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPassword, ti.PostgresHost, ti.PostgresPort, database)
}

func (ti *TestInfrastructure) AMQPURL() string {
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", ti.RabbitHost, ti.RabbitPort)
}

func (ti *TestInfrastructure) Cleanup(ctx context.Context) error {
	if ti.RabbitContainer != nil {
		if err := ti.RabbitContainer.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate rabbitmq container: %w", err)
		}
	}
	if ti.PostgresContainer != nil {
		if err := ti.PostgresContainer.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate postgres container: %w", err)
		}
	}
	return nil
}
