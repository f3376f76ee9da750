package entity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"possync/internal/domain/sync"
)

var (
	ErrMissingField = errors.New("required field is missing")
	ErrInvalidField = errors.New("field has invalid value")
)

// Validators проверки документов по типам сущностей.
var Validators = map[sync.EntityType]Validator{
	sync.EntityProduct:       validateProduct,
	sync.EntitySale:          validateSale,
	sync.EntityCustomer:      validateCustomer,
	sync.EntityPayment:       validatePayment,
	sync.EntityStockMovement: validateStockMovement,
	sync.EntityCredit:        validateCredit,
}

func validateProduct(action sync.Action, doc map[string]json.RawMessage) error {
	if err := requireString(doc, "name", action == sync.ActionCreate); err != nil {
		return err
	}
	if err := nonNegative(doc, "price"); err != nil {
		return err
	}
	if err := nonNegative(doc, "cost"); err != nil {
		return err
	}
	_, _, err := decimalField(doc, "quantity")
	return err
}

func validateSale(action sync.Action, doc map[string]json.RawMessage) error {
	if action == sync.ActionCreate {
		if _, ok, err := decimalField(doc, "total"); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("total: %w", ErrMissingField)
		}
	}
	for _, key := range []string{"total", "discount", "amount_paid"} {
		if err := nonNegative(doc, key); err != nil {
			return err
		}
	}
	return nil
}

func validateCustomer(action sync.Action, doc map[string]json.RawMessage) error {
	return requireString(doc, "name", action == sync.ActionCreate)
}

func validatePayment(action sync.Action, doc map[string]json.RawMessage) error {
	amount, ok, err := decimalField(doc, "amount")
	if err != nil {
		return err
	}
	if !ok {
		if action == sync.ActionCreate {
			return fmt.Errorf("amount: %w", ErrMissingField)
		}
		return nil
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive: %w", ErrInvalidField)
	}
	return nil
}

func validateStockMovement(action sync.Action, doc map[string]json.RawMessage) error {
	if err := requireRef(doc, "product_id", action == sync.ActionCreate); err != nil {
		return err
	}
	qty, ok, err := decimalField(doc, "quantity")
	if err != nil {
		return err
	}
	if !ok {
		if action == sync.ActionCreate {
			return fmt.Errorf("quantity: %w", ErrMissingField)
		}
		return nil
	}
	if qty.IsZero() {
		return fmt.Errorf("quantity must not be zero: %w", ErrInvalidField)
	}
	return nil
}

func validateCredit(action sync.Action, doc map[string]json.RawMessage) error {
	if err := requireRef(doc, "customer_id", action == sync.ActionCreate); err != nil {
		return err
	}
	_, ok, err := decimalField(doc, "amount")
	if err != nil {
		return err
	}
	if !ok && action == sync.ActionCreate {
		return fmt.Errorf("amount: %w", ErrMissingField)
	}
	return nil
}

// decimalField читает денежное или количественное поле: число JSON или строку с числом.
func decimalField(doc map[string]json.RawMessage, key string) (decimal.Decimal, bool, error) {
	raw, ok := doc[key]
	if !ok || string(raw) == "null" {
		return decimal.Zero, false, nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.Zero, false, fmt.Errorf("%s: %w", key, ErrInvalidField)
	}
	return d, true, nil
}

func nonNegative(doc map[string]json.RawMessage, key string) error {
	d, ok, err := decimalField(doc, key)
	if err != nil || !ok {
		return err
	}
	if d.IsNegative() {
		return fmt.Errorf("%s must not be negative: %w", key, ErrInvalidField)
	}
	return nil
}

func requireString(doc map[string]json.RawMessage, key string, required bool) error {
	raw, ok := doc[key]
	if !ok {
		if required {
			return fmt.Errorf("%s: %w", key, ErrMissingField)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return fmt.Errorf("%s must be a non-empty string: %w", key, ErrInvalidField)
	}
	return nil
}

// requireRef ссылка на другую сущность: непустая строка или число.
func requireRef(doc map[string]json.RawMessage, key string, required bool) error {
	raw, ok := doc[key]
	if !ok {
		if required {
			return fmt.Errorf("%s: %w", key, ErrMissingField)
		}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "" {
		return nil
	}
	return requireString(doc, key, required)
}
