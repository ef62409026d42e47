package classification

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var saleResults = []string{
	"sale_completed",
	"sale_intended",
	"no_sale_customer_declined",
	"no_sale_business_unable",
	"not_sales_call",
}

const (
	maxCallTypes       = 2
	maxCategoryDetails = 3
	noEscalation       = "none"
)

// DeliveryTracking is present only for tracking enquiries.
type DeliveryTracking struct {
	Carrier        string   `json:"carrier"`
	CustomerAction string   `json:"customer_action"`
	ReasonForCall  []string `json:"reason_for_call"`
}

// ConfidenceScores are the model's self-reported certainty per section.
type ConfidenceScores struct {
	CallType              float64 `json:"call_type_confidence"`
	SaleResult            float64 `json:"sale_result_confidence"`
	ProductClassification float64 `json:"product_classification_confidence"`
	Overall               float64 `json:"overall_confidence"`
}

// Classification is the structured result for one call.
type Classification struct {
	Version               string            `json:"classification_version"`
	CallType              []string          `json:"call_type"`
	SaleResult            string            `json:"sale_result"`
	NoSaleReasons         []string          `json:"no_sale_reasons"`
	ProductFamily         string            `json:"product_family"`
	ProductCategoryDetail []string          `json:"product_category_detail"`
	ProblemsDetected      []string          `json:"problems_detected"`
	DeliveryTracking      *DeliveryTracking `json:"delivery_tracking"`
	AgentName             *string           `json:"agent_name"`
	EscalationActions     []string          `json:"escalation_actions"`
	ConfidenceScores      ConfidenceScores  `json:"confidence_scores"`
}

// Normalize lowercases labels, drops blanks and duplicates, applies the list
// caps and clamps confidence scores into [0, 1]. defaultVersion fills a
// missing classification_version.
func (c *Classification) Normalize(defaultVersion string) {
	c.Version = strings.TrimSpace(c.Version)
	if c.Version == "" {
		c.Version = defaultVersion
	}
	c.CallType = labels(c.CallType, maxCallTypes)
	c.SaleResult = label(c.SaleResult)
	c.NoSaleReasons = labels(c.NoSaleReasons, 0)
	if !strings.HasPrefix(c.SaleResult, "no_sale") {
		c.NoSaleReasons = []string{}
	}
	c.ProductFamily = label(c.ProductFamily)
	c.ProductCategoryDetail = labels(c.ProductCategoryDetail, maxCategoryDetails)
	c.ProblemsDetected = labels(c.ProblemsDetected, 0)
	c.EscalationActions = labels(c.EscalationActions, 0)
	if len(c.EscalationActions) == 0 {
		c.EscalationActions = []string{noEscalation}
	}
	if c.DeliveryTracking != nil {
		c.DeliveryTracking.Carrier = label(c.DeliveryTracking.Carrier)
		c.DeliveryTracking.CustomerAction = label(c.DeliveryTracking.CustomerAction)
		c.DeliveryTracking.ReasonForCall = labels(c.DeliveryTracking.ReasonForCall, 0)
		if c.DeliveryTracking.Carrier == "" && c.DeliveryTracking.CustomerAction == "" && len(c.DeliveryTracking.ReasonForCall) == 0 {
			c.DeliveryTracking = nil
		}
	}
	if c.AgentName != nil {
		name := strings.TrimSpace(*c.AgentName)
		if name == "" || strings.EqualFold(name, "null") || strings.EqualFold(name, "unknown") {
			c.AgentName = nil
		} else {
			c.AgentName = &name
		}
	}
	c.ConfidenceScores.CallType = clamp(c.ConfidenceScores.CallType)
	c.ConfidenceScores.SaleResult = clamp(c.ConfidenceScores.SaleResult)
	c.ConfidenceScores.ProductClassification = clamp(c.ConfidenceScores.ProductClassification)
	c.ConfidenceScores.Overall = clamp(c.ConfidenceScores.Overall)
}

// Validate reports a payload that is missing the sections every call has.
func (c Classification) Validate() error {
	var problems []string
	if len(c.CallType) == 0 {
		problems = append(problems, "call_type is empty")
	}
	if !slices.Contains(saleResults, c.SaleResult) {
		problems = append(problems, fmt.Sprintf("sale_result %q is not a known value", c.SaleResult))
	}
	if c.ProductFamily == "" {
		problems = append(problems, "product_family is empty")
	}
	if len(problems) > 0 {
		return errors.New("invalid classification: " + strings.Join(problems, "; "))
	}
	return nil
}

// JSON returns the normalized document stored in the classification column.
func (c Classification) JSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode classification: %w", err)
	}
	return string(data), nil
}

func label(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func labels(values []string, limit int) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		normalized := label(value)
		if normalized == "" || slices.Contains(out, normalized) {
			continue
		}
		out = append(out, normalized)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func clamp(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
