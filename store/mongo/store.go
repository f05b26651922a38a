// Package mongo implements store.Store on MongoDB. Commits use multi-document
// transactions, so the deployment must be a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/credit"
	"github.com/xraph/credit/account"
	"github.com/xraph/credit/adjustment"
	"github.com/xraph/credit/id"
	"github.com/xraph/credit/settings"
	creditstore "github.com/xraph/credit/store"
	"github.com/xraph/credit/transaction"
)

// Collection name constants.
const (
	colAccounts      = "credit_accounts"
	colTransactions  = "credit_transactions"
	colSettings      = "credit_settings"
	colClientPricing = "credit_client_pricing"
	colAdjustments   = "credit_adjustments"

	emissionIndex = "credit_transactions_emission_key"
)

// compile-time interface check
var _ creditstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri and uses the named database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("credit/mongo: connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("credit/mongo: ping: %w", err)
	}
	return New(client, database), nil
}

// New creates a new MongoDB store on a connected client.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// Database returns the underlying database for direct access.
func (s *Store) Database() *mongo.Database { return s.db }

// Migrate creates indexes for all credit collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("credit/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.db.Collection(colAccounts).InsertOne(ctx, toAccountModel(a))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credit.ErrAccountExists
		}
		return fmt.Errorf("credit/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, clientID string) (*account.Account, error) {
	var m accountModel
	err := s.db.Collection(colAccounts).FindOne(ctx, bson.M{"_id": clientID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credit.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(&m), nil
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	filter := bson.M{}
	if opts.Search != "" {
		pattern := bson.Regex{Pattern: regexp.QuoteMeta(opts.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"_id": pattern},
			bson.M{"display_name": pattern},
		}
	}

	var models []accountModel
	if err := s.find(ctx, colAccounts, filter, bson.D{{Key: "_id", Value: 1}}, opts.Limit, opts.Offset, &models); err != nil {
		return nil, err
	}

	result := make([]*account.Account, len(models))
	for i := range models {
		result[i] = fromAccountModel(&models[i])
	}
	return result, nil
}

func (s *Store) UpdateDisplayName(ctx context.Context, clientID, displayName string) error {
	res, err := s.db.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": clientID},
		bson.M{"$set": bson.M{"display_name": displayName, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return credit.ErrAccountNotFound
	}
	return nil
}

// ==================== Transaction Store ====================

// CommitTransaction advances the account from expectedVersion and inserts
// tx in one multi-document transaction.
func (s *Store) CommitTransaction(ctx context.Context, expectedVersion int64, tx *transaction.Transaction) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		res, err := s.db.Collection(colAccounts).UpdateOne(ctx,
			bson.M{"_id": tx.ClientID, "version": expectedVersion},
			bson.M{"$set": bson.M{
				"balance":    tx.NewBalance.Amount,
				"version":    tx.Sequence,
				"updated_at": tx.CreatedAt,
			}},
		)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			n, err := s.db.Collection(colAccounts).CountDocuments(ctx, bson.M{"_id": tx.ClientID})
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, credit.ErrAccountNotFound
			}
			return nil, credit.ErrStorageConflict
		}

		_, err = s.db.Collection(colTransactions).InsertOne(ctx, toTransactionModel(tx))
		return nil, err
	})
	return mapCommitError(err)
}

func (s *Store) GetTransaction(ctx context.Context, txID id.TransactionID) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.db.Collection(colTransactions).FindOne(ctx, bson.M{"_id": txID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credit.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(&m)
}

func (s *Store) FindByEmission(ctx context.Context, clientID, emissionID string) ([]*transaction.Transaction, error) {
	filter := bson.M{
		"client_id":   clientID,
		"emission_id": emissionID,
		"type": bson.M{"$in": bson.A{
			string(transaction.TypeConsume),
			string(transaction.TypeRefund),
		}},
	}
	var models []transactionModel
	if err := s.find(ctx, colTransactions, filter, bson.D{{Key: "sequence", Value: 1}}, 0, 0, &models); err != nil {
		return nil, err
	}
	return fromTransactionModels(models)
}

func (s *Store) ListTransactions(ctx context.Context, clientID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	filter := bson.M{"client_id": clientID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	order := -1
	if opts.Ascending {
		order = 1
	}

	var models []transactionModel
	if err := s.find(ctx, colTransactions, filter, bson.D{{Key: "sequence", Value: order}}, opts.Limit, opts.Offset, &models); err != nil {
		return nil, err
	}
	return fromTransactionModels(models)
}

func fromTransactionModels(models []transactionModel) ([]*transaction.Transaction, error) {
	result := make([]*transaction.Transaction, 0, len(models))
	for i := range models {
		tx, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}

// ==================== Settings Store ====================

func (s *Store) GetSettings(ctx context.Context) (*settings.System, error) {
	var m settingsModel
	err := s.db.Collection(colSettings).FindOne(ctx, bson.M{"_id": settingsDocID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credit.ErrSettingsNotFound
		}
		return nil, err
	}
	return fromSettingsModel(&m)
}

func (s *Store) SaveSettings(ctx context.Context, sys *settings.System) error {
	_, err := s.db.Collection(colSettings).ReplaceOne(ctx,
		bson.M{"_id": settingsDocID},
		toSettingsModel(sys),
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *Store) GetClientPricing(ctx context.Context, clientID string) (*settings.ClientPricing, error) {
	var m clientPricingModel
	err := s.db.Collection(colClientPricing).FindOne(ctx, bson.M{"_id": clientID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credit.ErrClientPricingNotFound
		}
		return nil, err
	}
	return fromClientPricingModel(&m)
}

func (s *Store) SaveClientPricing(ctx context.Context, p *settings.ClientPricing) error {
	_, err := s.db.Collection(colClientPricing).ReplaceOne(ctx,
		bson.M{"_id": p.ClientID},
		toClientPricingModel(p),
		options.Replace().SetUpsert(true),
	)
	return err
}

// ==================== Adjustment Store ====================

func (s *Store) CreateAdjustment(ctx context.Context, a *adjustment.Adjustment) error {
	if _, err := s.db.Collection(colAdjustments).InsertOne(ctx, toAdjustmentModel(a)); err != nil {
		return fmt.Errorf("credit/mongo: create adjustment: %w", err)
	}
	return nil
}

func (s *Store) ListAdjustments(ctx context.Context, opts adjustment.ListOpts) ([]*adjustment.Adjustment, error) {
	filter := bson.M{}
	if opts.ClientID != "" {
		filter["client_id"] = opts.ClientID
	}
	if opts.EmissionID != "" {
		filter["emission_id"] = opts.EmissionID
	}

	var models []adjustmentModel
	sort := bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	if err := s.find(ctx, colAdjustments, filter, sort, opts.Limit, opts.Offset, &models); err != nil {
		return nil, err
	}

	result := make([]*adjustment.Adjustment, 0, len(models))
	for i := range models {
		a, err := fromAdjustmentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// ==================== Helpers ====================

func (s *Store) find(ctx context.Context, col string, filter any, sort bson.D, limit, offset int, out any) error {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}

	cursor, err := s.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("credit/mongo: find %s: %w", col, err)
	}
	return cursor.All(ctx, out)
}

func mapCommitError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, credit.ErrStorageConflict) || errors.Is(err, credit.ErrAccountNotFound) {
		return err
	}
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), emissionIndex) {
			return credit.ErrDuplicateEmission
		}
		return credit.ErrStorageConflict
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return credit.ErrStorageConflict
	}
	return fmt.Errorf("credit/mongo: commit transaction: %w", err)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all credit collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{Keys: bson.D{{Key: "display_name", Value: 1}}},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "client_id", Value: 1}, {Key: "sequence", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "emission_id", Value: 1}, {Key: "type", Value: 1}},
				Options: options.Index().
					SetName(emissionIndex).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"emission_id": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "type", Value: 1}, {Key: "sequence", Value: -1}}},
		},
		colAdjustments: {
			{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "emission_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
}
