package schema

// Default returns the contract graph schema derived from the CUAD dataset:
// six node labels, six relationship types, and the closed clause/agreement
// type enumerations. EmbeddingDim matches text-embedding-3-small.
func Default() *Descriptor {
	d := &Descriptor{
		Labels: map[string][]Property{
			"Agreement": {
				{Name: "contract_id", Kind: KindInt, Required: true},
				{Name: "name", Kind: KindString},
				{Name: "agreement_type", Kind: KindString},
				{Name: "effective_date", Kind: KindString},
				{Name: "expiration_date", Kind: KindString},
				{Name: "renewal_term", Kind: KindString},
				{Name: "notice_period_to_terminate_renewal", Kind: KindString},
				{Name: "most_favored_country", Kind: KindString},
			},
			"Organization": {
				{Name: "name", Kind: KindString, Required: true},
			},
			"Country": {
				{Name: "name", Kind: KindString, Required: true},
			},
			"ContractClause": {
				{Name: "type", Kind: KindString, Required: true},
			},
			"ClauseType": {
				{Name: "name", Kind: KindString, Required: true},
			},
			"Excerpt": {
				{Name: "text", Kind: KindString, Required: true},
			},
		},
		Relations: map[string][]Property{
			"IS_PARTY_TO":      {{Name: "role", Kind: KindString}},
			"GOVERNED_BY_LAW":  {{Name: "state", Kind: KindString}},
			"INCORPORATED_IN":  {{Name: "state", Kind: KindString}},
			"HAS_CLAUSE":       {{Name: "type", Kind: KindString}},
			"HAS_TYPE":         {},
			"HAS_EXCERPT":      {},
		},
		Triples: []Triple{
			{Source: "Organization", Type: "IS_PARTY_TO", Target: "Agreement"},
			{Source: "Organization", Type: "INCORPORATED_IN", Target: "Country"},
			{Source: "Agreement", Type: "GOVERNED_BY_LAW", Target: "Country"},
			{Source: "Agreement", Type: "HAS_CLAUSE", Target: "ContractClause"},
			{Source: "ContractClause", Type: "HAS_TYPE", Target: "ClauseType"},
			{Source: "ContractClause", Type: "HAS_EXCERPT", Target: "Excerpt"},
		},
		ClauseTypes: []string{
			"Competitive Restriction Exception",
			"Non-Compete",
			"Exclusivity",
			"No-Solicit Of Customers",
			"No-Solicit Of Employees",
			"Non-Disparagement",
			"Termination For Convenience",
			"Rofr/Rofo/Rofn",
			"Change Of Control",
			"Anti-Assignment",
			"Revenue/Profit Sharing",
			"Price Restrictions",
			"Minimum Commitment",
			"Volume Restriction",
			"IP Ownership Assignment",
			"Joint IP Ownership",
			"License grant",
			"Non-Transferable License",
			"Affiliate License-Licensor",
			"Affiliate License-Licensee",
			"Unlimited/All-You-Can-Eat-License",
			"Irrevocable Or Perpetual License",
			"Source Code Escrow",
			"Post-Termination Services",
			"Audit Rights",
			"Uncapped Liability",
			"Cap On Liability",
			"Liquidated Damages",
			"Warranty Duration",
			"Insurance",
			"Covenant Not To Sue",
			"Third Party Beneficiary",
		},
		AgreementTypes: []string{
			"Affiliate Agreement",
			"Agency Agreement",
			"Collaboration/Cooperation Agreement",
			"Co-Branding Agreement",
			"Consulting Agreement",
			"Development Agreement",
			"Distributor Agreement",
			"Endorsement Agreement",
			"Franchise Agreement",
			"Hosting Agreement",
			"IP Agreement",
			"Joint Venture Agreement",
			"License Agreement",
			"Maintenance Agreement",
			"Manufacturing Agreement",
			"Marketing Agreement",
			"Non-Compete/No-Solicit/Non-Disparagement Agreement",
			"Outsourcing Agreement",
			"Promotion Agreement",
			"Reseller Agreement",
			"Service Agreement",
			"Sponsorship Agreement",
			"Supply Agreement",
			"Strategic Alliance Agreement",
			"Transportation Agreement",
			"Other",
		},
		EmbeddingDim: 1536,
	}
	d.buildSets()
	return d
}
