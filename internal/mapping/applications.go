package mapping

import "github.com/hyperengineering/loansync/internal/types"

// ApplicationFields projects a CMS "Application" onto the application_records table.
// Double-underscore sources are CMS related-field lookups.
var ApplicationFields = Table{
	{Source: "id", Dest: "id", Kind: types.KindInt},
	{Source: "code", Dest: "code", Kind: types.KindText},

	{Source: "approve_amount", Dest: "approve_amount", Kind: types.KindDecimal},
	{Source: "approve_term", Dest: "approve_term", Kind: types.KindInt},
	{Source: "loan_amount", Dest: "loan_amount", Kind: types.KindDecimal},
	{Source: "loan_term", Dest: "loan_term", Kind: types.KindInt},

	{Source: "status", Dest: "status", Kind: types.KindInt},
	{Source: "status__name", Dest: "status_name", Kind: types.KindText},

	{Source: "product", Dest: "product_id", Kind: types.KindInt},
	{Source: "product__type__name", Dest: "product_type_name", Kind: types.KindText},
	{Source: "product__type__code", Dest: "product_type_code", Kind: types.KindText},
	{Source: "product__category__name", Dest: "product_category_name", Kind: types.KindText},
	{Source: "product__category__code", Dest: "product_category_code", Kind: types.KindText},

	{Source: "customer", Dest: "customer_id", Kind: types.KindInt},
	{Source: "customer__code", Dest: "customer_code", Kind: types.KindText},
	{Source: "fullname", Dest: "fullname", Kind: types.KindText, Default: ""},
	{Source: "phone", Dest: "phone", Kind: types.KindText, Default: ""},
	{Source: "sex", Dest: "sex", Kind: types.KindInt},
	{Source: "sex__name", Dest: "sex_name", Kind: types.KindText},

	{Source: "legal_type", Dest: "legal_type", Kind: types.KindInt},
	{Source: "legal_type__code", Dest: "legal_type_code", Kind: types.KindText},
	{Source: "legal_type__name", Dest: "legal_type_name", Kind: types.KindText},
	{Source: "legal_code", Dest: "legal_code", Kind: types.KindText},
	{Source: "issue_place", Dest: "issue_place", Kind: types.KindText},
	{Source: "issue_date", Dest: "issue_date", Kind: types.KindText},

	{Source: "province", Dest: "province", Kind: types.KindText},
	{Source: "district", Dest: "district", Kind: types.KindText},
	{Source: "address", Dest: "address", Kind: types.KindText},

	{Source: "country", Dest: "country_id", Kind: types.KindInt},
	{Source: "country__code", Dest: "country_code", Kind: types.KindText},
	{Source: "country__name", Dest: "country_name", Kind: types.KindText},

	{Source: "currency", Dest: "currency_id", Kind: types.KindInt},
	{Source: "currency__code", Dest: "currency_code", Kind: types.KindText},

	{Source: "branch", Dest: "branch_id", Kind: types.KindInt},
	{Source: "branch__code", Dest: "branch_code", Kind: types.KindText},

	{Source: "creator", Dest: "creator_id", Kind: types.KindInt},
	{Source: "creator__fullname", Dest: "creator_fullname", Kind: types.KindText},
	{Source: "updater", Dest: "updater_id", Kind: types.KindInt},
	{Source: "updater__fullname", Dest: "updater_fullname", Kind: types.KindText},
	{Source: "approver", Dest: "approver_id", Kind: types.KindInt},
	{Source: "approver__fullname", Dest: "approver_fullname", Kind: types.KindText},

	{Source: "source", Dest: "source_id", Kind: types.KindInt},
	{Source: "source__name", Dest: "source_name", Kind: types.KindText},

	{Source: "collaborator", Dest: "collaborator_id", Kind: types.KindInt},
	{Source: "loanapp__code", Dest: "loanapp_code", Kind: types.KindText},
	{Source: "note", Dest: "note", Kind: types.KindText, Default: ""},

	{Source: "create_time", Dest: "create_time", Kind: types.KindTime},
	{Source: "update_time", Dest: "update_time", Kind: types.KindTime},
}
