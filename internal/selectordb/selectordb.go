// Package selectordb resolves a 4-byte function selector to the human
// signature it was compiled from, backed by a shared MongoDB collection
// of known signatures (the "MongoDB-backed signature lookups" collaborator
// spec.md's function-name labels lean on).
package selectordb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/semunits/disco/internal/semantic"
)

// Lookup is the narrow interface the rest of the pipeline depends on: a
// 4-byte selector in, its canonical signature out. RelabelFunctions only
// ever needs this much, so it never touches the mongo driver directly.
type Lookup interface {
	Signature(ctx context.Context, selector string) (string, bool, error)
}

// signatureDoc is the stored document shape: {selector, signature}.
type signatureDoc struct {
	Selector  string `bson:"selector"`
	Signature string `bson:"signature"`
}

// Mongo is the MongoDB-backed Lookup implementation.
type Mongo struct {
	collection *mongo.Collection
}

// NewMongo wraps an already-connected collection handle.
func NewMongo(collection *mongo.Collection) *Mongo {
	return &Mongo{collection: collection}
}

// Signature looks up selector's stored signature, if any.
func (m *Mongo) Signature(ctx context.Context, selector string) (string, bool, error) {
	var doc signatureDoc
	err := m.collection.FindOne(ctx, bson.M{"selector": selector}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc.Signature, true, nil
}

// RelabelFunctions rewrites each unit's BelongFunctions keys from a bare
// selector ("0x12345678") to the "<selector>_<name>" shape spec.md §6's
// output schema shows, resolving each selector through lookup. A selector
// lookup misses, or function.Fallback ("0x", naming no function at all),
// is left as-is.
func RelabelFunctions(ctx context.Context, units []*semantic.SemanticUnit, lookup Lookup) {
	cache := map[string]string{}
	for _, u := range units {
		relabeled := make(map[string]bool, len(u.BelongFunctions))
		for selector := range u.BelongFunctions {
			relabeled[label(ctx, selector, lookup, cache)] = true
		}
		u.BelongFunctions = relabeled
	}
}

func label(ctx context.Context, selector string, lookup Lookup, cache map[string]string) string {
	if selector == "0x" || lookup == nil {
		return selector
	}
	if l, ok := cache[selector]; ok {
		return l
	}
	sig, ok, err := lookup.Signature(ctx, selector)
	if err != nil || !ok {
		cache[selector] = selector
		return selector
	}
	l := selector + "_" + sig
	cache[selector] = l
	return l
}
