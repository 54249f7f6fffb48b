package entities

import (
	"testing"

	"github.com/JonMunkholm/bulkio/internal/core"
)

func TestCatalogRegistered(t *testing.T) {
	for _, typ := range []string{"products", "customers", "orders", "inventory"} {
		def, ok := core.Get(typ)
		if !ok {
			t.Errorf("%s not registered", typ)
			continue
		}
		if len(def.UniqueKey) == 0 || len(def.Rules) == 0 || len(def.Fields) == 0 {
			t.Errorf("%s definition incomplete: %+v", typ, def)
		}
	}
	if got := len(Types()); got != 4 {
		t.Errorf("Types() = %d entries, want 4", got)
	}
}

func TestCatalogRules(t *testing.T) {
	tests := []struct {
		entity    string
		record    core.Record
		wantValid bool
	}{
		{"products", core.Record{"sku": core.StringValue("SKU-1"), "name": core.StringValue("Mug"), "price": core.StringValue("$4.50")}, true},
		{"products", core.Record{"sku": core.StringValue("bad sku"), "name": core.StringValue("Mug"), "price": core.NumberValue(4)}, false},
		{"products", core.Record{"sku": core.StringValue("A1"), "name": core.StringValue("Mug"), "price": core.NumberValue(-1)}, false},
		{"products", core.Record{"sku": core.StringValue("A1"), "name": core.StringValue("Mug"), "price": core.NumberValue(1), "cost": core.NumberValue(5)}, true},
		{"customers", core.Record{"email": core.StringValue("a@b.com"), "last_name": core.StringValue("Lee"), "state": core.StringValue("Texas")}, true},
		{"customers", core.Record{"email": core.StringValue("a@b.com"), "last_name": core.StringValue("Lee"), "state": core.StringValue("Narnia")}, false},
		{"orders", core.Record{"order_number": core.StringValue("1001"), "customer_email": core.StringValue("a@b.com"), "order_date": core.StringValue("2024-05-01"), "total": core.NumberValue(10), "status": core.StringValue("Paid")}, true},
		{"orders", core.Record{"order_number": core.StringValue("1001"), "customer_email": core.StringValue("a@b.com"), "order_date": core.StringValue("2024-05-01"), "total": core.NumberValue(10), "currency": core.StringValue("dollars")}, false},
		{"inventory", core.Record{"sku": core.StringValue("A1"), "location": core.StringValue("WH1"), "on_hand": core.NumberValue(10), "reserved": core.NumberValue(4)}, true},
		{"inventory", core.Record{"sku": core.StringValue("A1"), "location": core.StringValue("WH1"), "on_hand": core.NumberValue(2.5)}, false},
		{"inventory", core.Record{"sku": core.StringValue("A1"), "location": core.StringValue("WH1"), "on_hand": core.NumberValue(3), "reserved": core.NumberValue(4)}, false},
	}

	for i, tt := range tests {
		def, _ := core.Get(tt.entity)
		out := core.ValidateRecords([]core.Row{{Index: 2, Fields: tt.record}}, def.Rules, core.ValidateOptions{})
		if got := len(out.Valid) == 1; got != tt.wantValid {
			t.Errorf("case %d (%s): valid = %v, want %v, errors %+v", i, tt.entity, got, tt.wantValid, out.Errors)
		}
	}
}

func TestNormalizeUsState(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"California", "CA"},
		{" new york ", "NY"},
		{"TX", "TX"},
		{"Ontario", "Ontario"},
	}
	for _, tt := range tests {
		if got := NormalizeUsState(tt.in); got != tt.want {
			t.Errorf("NormalizeUsState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if !IsUsState("tx") || IsUsState("Ontario") {
		t.Error("IsUsState misclassified input")
	}
}
