// Package mongodb provides a sink that stores every record as a document.
// Each batch is written with one InsertMany, inside a multi-document
// transaction when the deployment supports it.
package mongodb

import (
	"context"
	"strconv"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

// Credential keys
const (
	CredURI           = "uri"
	CredDatabase      = "database"
	CredCollection    = "collection"
	CredTransactional = "transactional"
)

const (
	defaultDatabase   = "lokitail"
	defaultCollection = "loki_logs"
)

// batchWriter stores one batch of documents, all or nothing when
// transactional
type batchWriter interface {
	Ping(ctx context.Context) error
	WriteBatch(ctx context.Context, docs []interface{}) error
	Disconnect(ctx context.Context) error
}

type mongoWriter struct {
	client        *mongo.Client
	coll          *mongo.Collection
	transactional bool
}

func (w *mongoWriter) Ping(ctx context.Context) error {
	return w.client.Ping(ctx, readpref.Primary())
}

func (w *mongoWriter) WriteBatch(ctx context.Context, docs []interface{}) error {
	if !w.transactional {
		_, err := w.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
		return err
	}

	session, err := w.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	txnOpts := options.Transaction().SetWriteConcern(writeconcern.Majority())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return w.coll.InsertMany(sc, docs)
	}, txnOpts)
	return err
}

func (w *mongoWriter) Disconnect(ctx context.Context) error {
	return w.client.Disconnect(ctx)
}

// MongoDBDestination is the MongoDB sink
type MongoDBDestination struct {
	*base.BaseConnector

	writer batchWriter
	target string
}

// NewMongoDBDestination connects to the deployment named by uri
func NewMongoDBDestination(ctx context.Context, cfg *config.BaseConfig) (*MongoDBDestination, error) {
	sec := &cfg.Security
	uri := sec.Credential(CredURI, "")
	if uri == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "mongodb uri is required")
	}
	transactional, err := strconv.ParseBool(sec.Credential(CredTransactional, "true"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid transactional flag")
	}

	opts := options.Client().ApplyURI(uri).SetAppName("lokitail")
	if cfg.Timeouts.Connection > 0 {
		opts.SetConnectTimeout(cfg.Timeouts.Connection).SetServerSelectionTimeout(cfg.Timeouts.Connection)
	}
	if cfg.Timeouts.Request > 0 {
		opts.SetTimeout(cfg.Timeouts.Request)
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mongodb uri")
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create mongodb client")
	}
	db := sec.Credential(CredDatabase, defaultDatabase)
	coll := sec.Credential(CredCollection, defaultCollection)
	w := &mongoWriter{
		client:        client,
		coll:          client.Database(db).Collection(coll),
		transactional: transactional,
	}

	d := newDestination(cfg, w, db+"."+coll)
	if err := d.ConnectWithRetry(ctx, "mongodb", w.Ping); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to mongodb")
	}
	return d, nil
}

func newDestination(cfg *config.BaseConfig, w batchWriter, target string) *MongoDBDestination {
	return &MongoDBDestination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		writer:        w,
		target:        target,
	}
}

// BeginTx opens a buffered transaction written with one InsertMany on commit
func (d *MongoDBDestination) BeginTx(ctx context.Context) (core.Tx, error) {
	return base.NewBufferedTx(d.write), nil
}

func (d *MongoDBDestination) write(ctx context.Context, rows []core.Row) error {
	docs := make([]interface{}, 0, len(rows))
	for i, r := range rows {
		doc, err := Document(r)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypePersistence, "row is not a JSON object").WithDetail("index", i)
		}
		docs = append(docs, doc)
	}
	if err := d.writer.WriteBatch(ctx, docs); err != nil {
		return err
	}
	d.GetLogger().Debug("batch inserted", zap.String("collection", d.target), zap.Int("documents", len(docs)))
	return nil
}

// Document converts a JSON row into a BSON document
func Document(row core.Row) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(row.Data, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Close disconnects the client
func (d *MongoDBDestination) Close(ctx context.Context) error {
	d.SetState(core.StateStopped)
	return d.writer.Disconnect(ctx)
}
