package triage

// Decision is the router outcome plus the rule that produced it.
type Decision struct {
	Route Route  `json:"route"`
	Rule  string `json:"rule"`
}

type routeRule struct {
	name  string
	match func(Assessment) bool
	route Route
}

// routeRules is evaluated top to bottom; the first match wins.
var routeRules = []routeRule{
	{name: "risk_score_at_least_7", route: RouteCrisis, match: func(a Assessment) bool { return a.RiskScore >= 7 }},
	{name: "immediate_action_needed", route: RouteCrisis, match: func(a Assessment) bool { return a.ImmediateActionNeeded }},
	{name: "risk_factors_present", route: RouteCrisis, match: func(a Assessment) bool { return len(a.RiskFactors) > 0 }},
	{name: "cognitive_distortions_present", route: RouteCBT, match: func(a Assessment) bool { return len(a.CognitiveDistortions) > 0 }},
}

const defaultRouteRule = "default_respond"

// RouteTurn picks the next action for an assessment. It is total: every input yields one route.
func RouteTurn(a Assessment) Decision {
	for _, rule := range routeRules {
		if rule.match(a) {
			return Decision{Route: rule.route, Rule: rule.name}
		}
	}
	return Decision{Route: RouteRespond, Rule: defaultRouteRule}
}
