// Package entities registers the retail back-office entity types with the
// core catalog. Import it for side effects.
package entities

import (
	"strings"

	"github.com/JonMunkholm/bulkio/internal/core"
)

func init() {
	registerProducts()
	registerCustomers()
	registerOrders()
	registerInventory()
}

func registerProducts() {
	core.Register(core.EntityDefinition{
		Type:      "products",
		Label:     "Products",
		Group:     "Catalog",
		UniqueKey: []string{"sku"},
		Fields: []core.FieldSpec{
			{Name: "sku", Label: "SKU", Kind: core.KindString},
			{Name: "name", Label: "Name", Kind: core.KindString},
			{Name: "description", Label: "Description", Kind: core.KindString},
			{Name: "category", Label: "Category", Kind: core.KindString},
			{Name: "price", Label: "Price", Kind: core.KindNumber},
			{Name: "cost", Label: "Cost", Kind: core.KindNumber},
			{Name: "status", Label: "Status", Kind: core.KindString},
			{Name: "active", Label: "Active", Kind: core.KindBool},
			{Name: "launched_at", Label: "Launch Date", Kind: core.KindTime},
		},
		Rules: []core.ValidationRule{
			{Field: "sku", Kind: core.RuleRequired},
			{Field: "sku", Kind: core.RulePattern, Pattern: `^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`, Message: "sku may only contain letters, digits, '.', '_' and '-'"},
			{Field: "name", Kind: core.RuleRequired},
			{Field: "price", Kind: core.RuleRequired},
			{Field: "price", Kind: core.RuleNumeric, Min: core.Float(0)},
			{Field: "cost", Kind: core.RuleNumeric, Min: core.Float(0)},
			{Field: "status", Kind: core.RuleEnum, Allowed: []string{"active", "draft", "archived"}},
			{Field: "launched_at", Kind: core.RuleDate},
			{Field: "cost", Kind: core.RuleCustom, Severity: core.SeverityWarning, Message: "cost is higher than price", Predicate: costBelowPrice},
		},
		Renames: map[string]string{
			"SKU Code":   "sku",
			"Item":       "sku",
			"Unit Price": "price",
			"Title":      "name",
		},
	})
}

func registerCustomers() {
	core.Register(core.EntityDefinition{
		Type:      "customers",
		Label:     "Customers",
		Group:     "Sales",
		UniqueKey: []string{"email"},
		Fields: []core.FieldSpec{
			{Name: "email", Label: "Email", Kind: core.KindString},
			{Name: "first_name", Label: "First Name", Kind: core.KindString},
			{Name: "last_name", Label: "Last Name", Kind: core.KindString},
			{Name: "phone", Label: "Phone", Kind: core.KindString},
			{Name: "city", Label: "City", Kind: core.KindString},
			{Name: "state", Label: "State", Kind: core.KindString},
			{Name: "marketing_opt_in", Label: "Marketing Opt-In", Kind: core.KindBool},
			{Name: "created_at", Label: "Customer Since", Kind: core.KindTime},
		},
		Rules: []core.ValidationRule{
			{Field: "email", Kind: core.RuleRequired},
			{Field: "email", Kind: core.RuleEmail},
			{Field: "last_name", Kind: core.RuleRequired},
			{Field: "phone", Kind: core.RulePattern, Pattern: `^[0-9+()\-. ]{7,20}$`},
			{Field: "state", Kind: core.RuleCustom, Message: "state must be a US state name or code", Predicate: func(v core.Value, _ core.Record) bool {
				return IsUsState(v.String())
			}},
			{Field: "created_at", Kind: core.RuleDate},
		},
		Renames: map[string]string{
			"E-mail":        "email",
			"Email Address": "email",
			"First":         "first_name",
			"Last":          "last_name",
			"Surname":       "last_name",
		},
	})
}

func registerOrders() {
	core.Register(core.EntityDefinition{
		Type:      "orders",
		Label:     "Orders",
		Group:     "Sales",
		UniqueKey: []string{"order_number"},
		Fields: []core.FieldSpec{
			{Name: "order_number", Label: "Order #", Kind: core.KindString},
			{Name: "customer_email", Label: "Customer Email", Kind: core.KindString},
			{Name: "order_date", Label: "Order Date", Kind: core.KindTime},
			{Name: "status", Label: "Status", Kind: core.KindString},
			{Name: "total", Label: "Total", Kind: core.KindNumber},
			{Name: "currency", Label: "Currency", Kind: core.KindString},
			{Name: "paid", Label: "Paid", Kind: core.KindBool},
		},
		Rules: []core.ValidationRule{
			{Field: "order_number", Kind: core.RuleRequired},
			{Field: "customer_email", Kind: core.RuleRequired},
			{Field: "customer_email", Kind: core.RuleEmail},
			{Field: "order_date", Kind: core.RuleRequired},
			{Field: "order_date", Kind: core.RuleDate},
			{Field: "status", Kind: core.RuleEnum, Allowed: []string{"pending", "paid", "shipped", "delivered", "cancelled", "refunded"}},
			{Field: "total", Kind: core.RuleRequired},
			{Field: "total", Kind: core.RuleNumeric, Min: core.Float(0)},
			{Field: "currency", Kind: core.RulePattern, Pattern: `^[A-Za-z]{3}$`, Message: "currency must be a 3-letter ISO code"},
		},
		Renames: map[string]string{
			"Order #":   "order_number",
			"Order No":  "order_number",
			"Email":     "customer_email",
			"Date":      "order_date",
			"Amount":    "total",
			"Order Sum": "total",
		},
	})
}

func registerInventory() {
	core.Register(core.EntityDefinition{
		Type:      "inventory",
		Label:     "Inventory Levels",
		Group:     "Catalog",
		UniqueKey: []string{"sku", "location"},
		Fields: []core.FieldSpec{
			{Name: "sku", Label: "SKU", Kind: core.KindString},
			{Name: "location", Label: "Location", Kind: core.KindString},
			{Name: "on_hand", Label: "On Hand", Kind: core.KindNumber},
			{Name: "reserved", Label: "Reserved", Kind: core.KindNumber},
			{Name: "reorder_point", Label: "Reorder Point", Kind: core.KindNumber},
			{Name: "counted_at", Label: "Counted At", Kind: core.KindTime},
		},
		Rules: []core.ValidationRule{
			{Field: "sku", Kind: core.RuleRequired},
			{Field: "location", Kind: core.RuleRequired},
			{Field: "on_hand", Kind: core.RuleRequired},
			{Field: "on_hand", Kind: core.RuleNumeric, Min: core.Float(0)},
			{Field: "on_hand", Kind: core.RuleCustom, Message: "on_hand must be a whole number", Predicate: wholeNumber},
			{Field: "reserved", Kind: core.RuleNumeric, Min: core.Float(0)},
			{Field: "reserved", Kind: core.RuleCustom, Message: "reserved cannot exceed on_hand", Predicate: reservedWithinOnHand},
			{Field: "reorder_point", Kind: core.RuleNumeric, Min: core.Float(0)},
			{Field: "counted_at", Kind: core.RuleDate},
		},
		Renames: map[string]string{
			"Qty":       "on_hand",
			"Quantity":  "on_hand",
			"Warehouse": "location",
			"Store":     "location",
		},
	})
}

func costBelowPrice(v core.Value, r core.Record) bool {
	cost, ok := v.Float()
	if !ok {
		return true
	}
	price, ok := r.Get("price").Float()
	if !ok {
		return true
	}
	return cost <= price
}

func wholeNumber(v core.Value, _ core.Record) bool {
	n, ok := v.Float()
	if !ok {
		return true // the numeric rule reports it
	}
	return n == float64(int64(n))
}

func reservedWithinOnHand(v core.Value, r core.Record) bool {
	reserved, ok := v.Float()
	if !ok {
		return true
	}
	onHand, ok := r.Get("on_hand").Float()
	if !ok {
		return true
	}
	return reserved <= onHand
}

// Types returns the registered entity types in catalog order.
func Types() []string {
	defs := core.All()
	types := make([]string, len(defs))
	for i, d := range defs {
		types[i] = strings.ToLower(d.Type)
	}
	return types
}
