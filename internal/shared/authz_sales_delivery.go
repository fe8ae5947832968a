package shared

// Sales order permissions declared for RBAC.
const (
	PermSalesOrderView    = "sales.order.view"
	PermSalesOrderCreate  = "sales.order.create"
	PermSalesOrderEdit    = "sales.order.edit"
	PermSalesOrderConfirm = "sales.order.confirm"
	PermSalesOrderCancel  = "sales.order.cancel"

	// Credit order approval tiers.
	PermCreditValidateHR    = "sales.credit.validate_hr"
	PermCreditValidateAdmin = "sales.credit.validate_admin"

	PermSalesPaymentView     = "sales.payment.view"
	PermSalesPaymentRegister = "sales.payment.register"

	PermDeliveryOrderShip     = "delivery.order.ship"
	PermDeliveryOrderComplete = "delivery.order.complete"

	PermLedgerInvoiceView = "ledger.invoice.view"
	PermLedgerInvoicePost = "ledger.invoice.post"
)

// SalesScopes lists all permissions related to the sales module.
func SalesScopes() []string {
	return []string{
		PermSalesOrderView,
		PermSalesOrderCreate,
		PermSalesOrderEdit,
		PermSalesOrderConfirm,
		PermSalesOrderCancel,
		PermCreditValidateHR,
		PermCreditValidateAdmin,
		PermSalesPaymentView,
		PermSalesPaymentRegister,
	}
}

// DeliveryScopes lists all permissions related to delivery.
func DeliveryScopes() []string {
	return []string{
		PermDeliveryOrderShip,
		PermDeliveryOrderComplete,
	}
}

// LedgerScopes lists all permissions related to invoices and payments.
func LedgerScopes() []string {
	return []string{
		PermLedgerInvoiceView,
		PermLedgerInvoicePost,
	}
}
