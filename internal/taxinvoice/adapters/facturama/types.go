package facturama

import "github.com/shopspring/decimal"

// amount serialises as a bare JSON number.
type amount decimal.Decimal

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).String()), nil
}

type clientPayload struct {
	Email        string `json:"Email,omitempty"`
	Rfc          string `json:"Rfc"`
	Name         string `json:"Name"`
	CfdiUse      string `json:"CfdiUse"`
	FiscalRegime string `json:"FiscalRegime"`
	TaxZipCode   string `json:"TaxZipCode"`
}

type clientResponse struct {
	ID string `json:"Id"`
}

type cfdiPayload struct {
	NameID            string             `json:"NameId"`
	Serie             string             `json:"Serie,omitempty"`
	Currency          string             `json:"Currency"`
	ExpeditionPlace   string             `json:"ExpeditionPlace"`
	CfdiType          string             `json:"CfdiType"`
	PaymentForm       string             `json:"PaymentForm"`
	PaymentMethod     string             `json:"PaymentMethod"`
	GlobalInformation *globalInformation `json:"GlobalInformation,omitempty"`
	Receiver          receiverPayload    `json:"Receiver"`
	Items             []itemPayload      `json:"Items"`
}

type globalInformation struct {
	Periodicity string `json:"Periodicity"`
	Months      string `json:"Months"`
	Year        string `json:"Year"`
}

type receiverPayload struct {
	Rfc          string `json:"Rfc"`
	Name         string `json:"Name"`
	CfdiUse      string `json:"CfdiUse"`
	FiscalRegime string `json:"FiscalRegime"`
	TaxZipCode   string `json:"TaxZipCode"`
}

type itemPayload struct {
	ProductCode          string       `json:"ProductCode"`
	IdentificationNumber string       `json:"IdentificationNumber"`
	Description          string       `json:"Description"`
	Unit                 string       `json:"Unit"`
	UnitCode             string       `json:"UnitCode"`
	UnitPrice            amount       `json:"UnitPrice"`
	Quantity             amount       `json:"Quantity"`
	Subtotal             amount       `json:"Subtotal"`
	TaxObject            string       `json:"TaxObject"`
	Taxes                []taxPayload `json:"Taxes"`
	Total                amount       `json:"Total"`
}

type taxPayload struct {
	Total       amount `json:"Total"`
	Name        string `json:"Name"`
	Base        amount `json:"Base"`
	Rate        amount `json:"Rate"`
	IsRetention bool   `json:"IsRetention"`
}

type cfdiResponse struct {
	ID         string `json:"Id"`
	Folio      string `json:"Folio"`
	Serie      string `json:"Serie"`
	Status     string `json:"Status"`
	Complement struct {
		TaxStamp struct {
			UUID string `json:"Uuid"`
		} `json:"TaxStamp"`
	} `json:"Complement"`
}

type fileResponse struct {
	ContentEncoding string `json:"ContentEncoding"`
	ContentType     string `json:"ContentType"`
	Content         string `json:"Content"`
}
