// Package parser compiles rule definitions into the ast form.
//
// Conditions are either expressions:
//
//	user.department = agent.department
//	agent.risk_score >= 7
//	agent.type in ["chatbot", "copilot"]
//
// or structured attribute-match maps:
//
//	{"assessment_type": ["tprm"], "industry": ["healthcare", "all"]}
//
// Actions use "<verb>:<target>" (assign_to, step, notify, flag) or a
// descriptor map with verb, target and params.
//
// Compile never fails. A definition that does not parse yields a rule whose
// Errors list explains why; the matcher skips such rules and reports them.
package parser
