package model

import "errors"

var ErrUnknownPlan = errors.New("unknown plan")

// Plan 充值套餐，固定表，不落库
type Plan struct {
	Name    string
	Credits int64
	Amount  int64 // 主币单位
}

const (
	PlanBasic    = "Basic"
	PlanAdvanced = "Advanced"
	PlanBusiness = "Business"
)

var plans = map[string]Plan{
	PlanBasic:    {Name: PlanBasic, Credits: 100, Amount: 10},
	PlanAdvanced: {Name: PlanAdvanced, Credits: 500, Amount: 50},
	PlanBusiness: {Name: PlanBusiness, Credits: 5000, Amount: 250},
}

func LookupPlan(id string) (Plan, error) {
	p, ok := plans[id]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// MinorUnits 网关要求的最小货币单位金额（如 paise）
func (p Plan) MinorUnits() int64 {
	return p.Amount * 100
}
