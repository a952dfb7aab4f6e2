package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

// CreateTables creates the named tables, skipping blank names and tables
// that already exist.
func CreateTables(ctx context.Context, connStr string, names ...string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err := ignoreCode(err, string(aztables.TableAlreadyExists)); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
		log.WithField("table", name).Info("table ready")
	}
	return nil
}

// CreateQueues creates the named queues, skipping blank names and queues that
// already exist.
func CreateQueues(ctx context.Context, connStr string, names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err := ignoreCode(err, queueAlreadyExists); err != nil {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
		log.WithField("queue", name).Info("queue ready")
	}
	return nil
}

// ignoreCode drops err when it is an Azure response error with the given code.
func ignoreCode(err error, code string) error {
	var respErr *azcore.ResponseError
	if err == nil || (errors.As(err, &respErr) && respErr.ErrorCode == code) {
		return nil
	}
	return err
}
