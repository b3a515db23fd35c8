package main

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/semunits/disco/internal/selectordb"
)

// dialSelectorLookup connects to mongoURI and returns a Lookup backed by
// its "signatures" collection in the "disco" database, or (nil, nil) when
// mongoURI is empty: function-selector-to-signature resolution is an
// optional enrichment, not a requirement to run static/transaction analysis.
func dialSelectorLookup(ctx context.Context, mongoURI string) (selectordb.Lookup, func(context.Context) error, error) {
	if mongoURI == "" {
		return nil, func(context.Context) error { return nil }, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, nil, err
	}
	collection := client.Database("disco").Collection("signatures")
	return selectordb.NewMongo(collection), client.Disconnect, nil
}
