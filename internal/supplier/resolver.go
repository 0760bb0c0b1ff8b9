// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package supplier

import (
	"context"
	"log/slog"

	"github.com/apflow/intake/internal/models"
)

// Directory is the lookup surface the resolver needs. Implemented by Store.
type Directory interface {
	GetByDomain(ctx context.Context, emailDomain string) (*models.Supplier, error)
	ScanByName(ctx context.Context, name string) ([]models.Supplier, error)
}

// Resolver maps an email domain (and optionally a supplier name) to a
// supplier record.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve applies the ordered resolution strategy, first match wins:
//
//  1. Direct email_domain lookup.
//  2. If supplierName is non-empty, substring scan over supplier names,
//     taking the first match in directory order.
//  3. The sentinel unknown-vendor record.
//
// Directory access errors propagate; no match is never an error.
func (r *Resolver) Resolve(ctx context.Context, emailDomain, supplierName string) (*models.Supplier, error) {
	sup, err := r.dir.GetByDomain(ctx, emailDomain)
	if err != nil {
		return nil, err
	}
	if sup != nil {
		slog.Info("supplier resolved via email domain",
			"email_domain", emailDomain,
			"supplier_id", sup.SupplierID,
		)
		return sup, nil
	}

	if supplierName != "" {
		matches, err := r.dir.ScanByName(ctx, supplierName)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			sup := matches[0]
			slog.Info("supplier resolved via name scan",
				"supplier_name", supplierName,
				"supplier_id", sup.SupplierID,
				"matches", len(matches),
			)
			return &sup, nil
		}
	}

	slog.Warn("no supplier found, returning unknown-vendor sentinel",
		"email_domain", emailDomain,
		"supplier_name", supplierName,
	)
	sentinel := models.UnknownSupplier()
	return &sentinel, nil
}
