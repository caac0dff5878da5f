package specialist

import "github.com/counselmesh/counselmesh/model"

// BuiltinTopics constructs the default capability set of model-backed
// variants, one per supported legal topic. Each declares its own
// optional-field set; the router and engine never see the differences.
func BuiltinTopics(llm model.Model) []*ModelSpecialist {
	return []*ModelSpecialist{
		NewModelSpecialist("divorce",
			"Cover grounds, shared children, shared property, and timeline. "+
				"Hand off to custody when children dominate the conversation.",
			[]FieldSpec{
				{Name: "location", Kind: FieldString},
				{Name: "zip", Kind: FieldString},
				{Name: "married_years", Kind: FieldNumber},
				{Name: "has_children", Kind: FieldBool},
				{Name: "shared_property", Kind: FieldBool},
				{Name: "budget", Kind: FieldNumber},
			}, llm),
		NewModelSpecialist("custody",
			"Cover the children's ages, current arrangement, and what the user wants changed.",
			[]FieldSpec{
				{Name: "location", Kind: FieldString},
				{Name: "children_count", Kind: FieldNumber},
				{Name: "current_arrangement", Kind: FieldString},
				{Name: "desired_outcome", Kind: FieldString},
			}, llm),
		NewModelSpecialist("tenancy",
			"Cover the rental situation: lease terms, landlord conduct, deposits, habitability.",
			[]FieldSpec{
				{Name: "location", Kind: FieldString},
				{Name: "zip", Kind: FieldString},
				{Name: "lease_active", Kind: FieldBool},
				{Name: "monthly_rent", Kind: FieldNumber},
				{Name: "issue", Kind: FieldString},
			}, llm),
		NewModelSpecialist("employment",
			"Cover employer, role, what happened, when, and any documentation.",
			[]FieldSpec{
				{Name: "location", Kind: FieldString},
				{Name: "employer_size", Kind: FieldNumber},
				{Name: "issue", Kind: FieldString},
				{Name: "still_employed", Kind: FieldBool},
			}, llm),
		NewModelSpecialist("immigration",
			"Cover current status, goal status, deadlines, and family ties.",
			[]FieldSpec{
				{Name: "location", Kind: FieldString},
				{Name: "current_status", Kind: FieldString},
				{Name: "goal_status", Kind: FieldString},
				{Name: "deadline", Kind: FieldString},
			}, llm),
		NewModelSpecialist("estate",
			"Cover what the estate involves, whether a will exists, and who is involved.",
			[]FieldSpec{
				{Name: "location", Kind: FieldString},
				{Name: "has_will", Kind: FieldBool},
				{Name: "estate_value", Kind: FieldNumber},
			}, llm),
	}
}

// BuiltinRegistry bundles the builtin variants into a registry.
func BuiltinRegistry(llm model.Model) *Registry {
	r := NewRegistry()
	for _, t := range BuiltinTopics(llm) {
		r.Register(t)
	}
	return r
}
