package devconfig

// Aliases maps the dashboard's field names to device config keys.
var Aliases = map[string]string{
	"gnb_id":              "gNBId",
	"gnb_id_length":       "gNBIdLength",
	"nr_band":             "band",
	"scs":                 "scs",
	"tx_power":            "txMaxPower",
	"frequency_down_link": "dl_centre_freq",
	"ip_address_gnb":      "n2_local_ip",
	"ip_address_gnb_ngu":  "n3_local_ip",
	"ip_address_ngc":      "n2_remote_ip",
	"ip_address_ngu":      "n3_remote_ip",
	"MCC":                 "MCC",
	"MNC":                 "MNC",
	"cell_id":             "cellLocalId",
	"nr_tac":              "nrTAC",
	"sst":                 "sst",
	"sd":                  "sd",
	"profile":             "profile",
}

// ResolveField maps an alias to its config key; other names pass through.
func ResolveField(field string) string {
	if key, ok := Aliases[field]; ok {
		return key
	}
	return field
}

// Core holds the core-network attributes shown on the dashboard.
type Core struct {
	MCC      string `json:"MCC"`
	MNC      string `json:"MNC"`
	CellID   string `json:"cell_id"`
	GnbNgcIP string `json:"ip_address_gnb"`
	GnbNguIP string `json:"ip_address_gnb_ngu"`
	NgcIP    string `json:"ip_address_ngc"`
	NguIP    string `json:"ip_address_ngu"`
	NrTAC    string `json:"nr_tac"`
	SST      string `json:"sst"`
	SD       string `json:"sd"`
	Profile  string `json:"profile"`
}

// Radio holds the radio attributes shown on the dashboard.
type Radio struct {
	GnbID        string `json:"gnb_id"`
	GnbIDLength  string `json:"gnb_id_length"`
	Band         string `json:"nr_band"`
	SCS          string `json:"scs"`
	TxPower      string `json:"tx_power"`
	DLCentreFreq string `json:"frequency_down_link"`
}

// CoreOf extracts the core attributes from doc.
func CoreOf(doc Document) Core {
	return Core{
		MCC:      doc.String("MCC"),
		MNC:      doc.String("MNC"),
		CellID:   doc.String("cellLocalId"),
		GnbNgcIP: doc.String("n2_local_ip"),
		GnbNguIP: doc.String("n3_local_ip"),
		NgcIP:    doc.String("n2_remote_ip"),
		NguIP:    doc.String("n3_remote_ip"),
		NrTAC:    doc.String("nrTAC"),
		SST:      doc.String("sst"),
		SD:       doc.String("sd"),
		Profile:  doc.String("profile"),
	}
}

// RadioOf extracts the radio attributes from doc. Some generator versions
// write the gNB ID key with a trailing colon.
func RadioOf(doc Document) Radio {
	id := doc.String("gNBId")
	if id == "" {
		id = doc.String("gNBId:")
	}
	return Radio{
		GnbID:        id,
		GnbIDLength:  doc.String("gNBIdLength"),
		Band:         doc.String("band"),
		SCS:          doc.String("scs"),
		TxPower:      doc.String("txMaxPower"),
		DLCentreFreq: doc.String("dl_centre_freq"),
	}
}
