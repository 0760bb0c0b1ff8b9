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
	"errors"
	"strings"
	"testing"

	"github.com/apflow/intake/internal/models"
)

// fakeDirectory implements Directory over an in-memory slice.
type fakeDirectory struct {
	suppliers []models.Supplier
	failWith  error
}

func (f *fakeDirectory) GetByDomain(_ context.Context, domain string) (*models.Supplier, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, s := range f.suppliers {
		if s.EmailDomain == domain {
			sup := s
			return &sup, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) ScanByName(_ context.Context, name string) ([]models.Supplier, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var matches []models.Supplier
	for _, s := range f.suppliers {
		if strings.Contains(strings.ToLower(s.SupplierName), strings.ToLower(name)) {
			matches = append(matches, s)
		}
	}
	return matches, nil
}

var testDirectory = []models.Supplier{
	{EmailDomain: "acme.com", SupplierID: "S100", SupplierName: "Acme Industrial", SupplierType: "GOODS", DefaultCurrency: "USD", APRoutingCode: "ROUTE_A"},
	{EmailDomain: "globex.io", SupplierID: "S200", SupplierName: "Globex Services", SupplierType: "SERVICES", DefaultCurrency: "EUR", APRoutingCode: "ROUTE_B"},
	{EmailDomain: "initech.net", SupplierID: "S300", SupplierName: "Initech Consulting", SupplierType: "SERVICES", DefaultCurrency: "USD", APRoutingCode: "ROUTE_B"},
}

// TestResolve_DomainMatch verifies the primary lookup path.
func TestResolve_DomainMatch(t *testing.T) {
	r := NewResolver(&fakeDirectory{suppliers: testDirectory})

	sup, err := r.Resolve(context.Background(), "acme.com", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if sup.SupplierID != "S100" {
		t.Errorf("SupplierID = %q, want S100", sup.SupplierID)
	}
	if sup.UnknownVendor {
		t.Error("UnknownVendor = true, want false")
	}
}

// TestResolve_NameScanFallback verifies the name scan runs only when the
// domain lookup misses, and takes the first match in directory order.
func TestResolve_NameScanFallback(t *testing.T) {
	r := NewResolver(&fakeDirectory{suppliers: testDirectory})

	sup, err := r.Resolve(context.Background(), "mail.acme-billing.com", "Globex")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if sup.SupplierID != "S200" {
		t.Errorf("SupplierID = %q, want S200", sup.SupplierID)
	}
}

// TestResolve_NameScanDeterministic verifies repeated resolution of the same
// inputs against the same directory state yields the same supplier.
func TestResolve_NameScanDeterministic(t *testing.T) {
	// Two suppliers both match "Services"-like scans via "s".
	r := NewResolver(&fakeDirectory{suppliers: testDirectory})

	first, err := r.Resolve(context.Background(), "unknown.example", "Services")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), "unknown.example", "Services")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if again.SupplierID != first.SupplierID {
			t.Fatalf("resolution not deterministic: got %q then %q", first.SupplierID, again.SupplierID)
		}
	}
}

// TestResolve_UnknownVendor verifies the sentinel path never errors.
func TestResolve_UnknownVendor(t *testing.T) {
	r := NewResolver(&fakeDirectory{suppliers: testDirectory})

	sup, err := r.Resolve(context.Background(), "nobody.example", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if !sup.UnknownVendor {
		t.Error("UnknownVendor = false, want true")
	}
	if sup.SupplierID != "UNKNOWN_VENDOR" {
		t.Errorf("SupplierID = %q, want UNKNOWN_VENDOR", sup.SupplierID)
	}
	if sup.APRoutingCode != "AP_MANUAL" {
		t.Errorf("APRoutingCode = %q, want AP_MANUAL", sup.APRoutingCode)
	}
}

// TestResolve_NoScanWithoutName verifies the sentinel is returned directly
// when the domain misses and no supplier name was supplied.
func TestResolve_NoScanWithoutName(t *testing.T) {
	r := NewResolver(&fakeDirectory{suppliers: testDirectory})

	sup, err := r.Resolve(context.Background(), "nobody.example", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !sup.UnknownVendor {
		t.Error("UnknownVendor = false, want true")
	}
}

// TestResolve_DirectoryError verifies directory failures propagate.
func TestResolve_DirectoryError(t *testing.T) {
	wantErr := errors.New("directory unavailable")
	r := NewResolver(&fakeDirectory{failWith: wantErr})

	if _, err := r.Resolve(context.Background(), "acme.com", ""); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
