package gateway

// Named contracts deployed on the ledger network. The gateway resolves this
// fixed set once at connect time; any other name is rejected outright.
const (
	ContractUser            = "user"
	ContractProduct         = "product"
	ContractOrder           = "order"
	ContractInventory       = "inventory"
	ContractVendorInventory = "vendor-inventory"
	ContractVendorRequest   = "vendor-request"
	ContractToken           = "token"
)

// classifications tag each contract's invocations for the audit trail.
var classifications = map[string]string{
	ContractUser:            "identity",
	ContractProduct:         "catalog",
	ContractOrder:           "commerce",
	ContractInventory:       "inventory",
	ContractVendorInventory: "inventory",
	ContractVendorRequest:   "vendor",
	ContractToken:           "settlement",
}

// Contract is a resolved handle for a named chaincode contract.
type Contract struct {
	Name           string
	Classification string
}

func resolveContracts() map[string]Contract {
	handles := make(map[string]Contract, len(classifications))
	for name, class := range classifications {
		handles[name] = Contract{Name: name, Classification: class}
	}
	return handles
}
