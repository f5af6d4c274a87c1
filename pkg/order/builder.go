package order

import (
	"encoding/json"
	"fmt"
	stdbig "math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/taskgrid/taskgrid/pkg/crypto"
	"github.com/taskgrid/taskgrid/pkg/tag"
)

// Defaults carries per-deployment template context, resolved from
// configuration rather than supplied with every order.
type Defaults struct {
	// ResultStorageProvider is written into request params when the caller
	// did not pick a provider themselves.
	ResultStorageProvider string
}

const fallbackStorageProvider = "ipfs"

// Builders construct fully populated unsigned templates from user overrides.
// No network or cryptographic work happens here: addresses are normalized to
// EIP-55 form, numeric fields default to price 0 / volume 1 / trust 0, and
// tags are validated against the capability rules.

// AppOrderParams are the user-supplied overrides for an app order. App is
// required; everything else has a typed default.
type AppOrderParams struct {
	App                string
	Price              *stdbig.Int
	Volume             *stdbig.Int
	Tag                []string
	DatasetRestrict    string
	WorkerpoolRestrict string
	RequesterRestrict  string
}

// NewAppOrder builds an unsigned app order template.
func NewAppOrder(p AppOrderParams) (*AppOrder, error) {
	app, err := requiredAddr("app", p.App)
	if err != nil {
		return nil, err
	}
	price, err := amount("appprice", p.Price, 0)
	if err != nil {
		return nil, err
	}
	volume, err := amount("volume", p.Volume, 1)
	if err != nil {
		return nil, err
	}
	t, err := tag.Encode(p.Tag...)
	if err != nil {
		return nil, err
	}
	datasetRestrict, err := optionalAddr("datasetrestrict", p.DatasetRestrict)
	if err != nil {
		return nil, err
	}
	workerpoolRestrict, err := optionalAddr("workerpoolrestrict", p.WorkerpoolRestrict)
	if err != nil {
		return nil, err
	}
	requesterRestrict, err := optionalAddr("requesterrestrict", p.RequesterRestrict)
	if err != nil {
		return nil, err
	}
	return &AppOrder{
		App:                app,
		AppPrice:           price,
		Volume:             volume,
		Tag:                t,
		DatasetRestrict:    datasetRestrict,
		WorkerpoolRestrict: workerpoolRestrict,
		RequesterRestrict:  requesterRestrict,
	}, nil
}

// DatasetOrderParams are the user-supplied overrides for a dataset order.
type DatasetOrderParams struct {
	Dataset            string
	Price              *stdbig.Int
	Volume             *stdbig.Int
	Tag                []string
	AppRestrict        string
	WorkerpoolRestrict string
	RequesterRestrict  string
}

// NewDatasetOrder builds an unsigned dataset order template.
func NewDatasetOrder(p DatasetOrderParams) (*DatasetOrder, error) {
	dataset, err := requiredAddr("dataset", p.Dataset)
	if err != nil {
		return nil, err
	}
	price, err := amount("datasetprice", p.Price, 0)
	if err != nil {
		return nil, err
	}
	volume, err := amount("volume", p.Volume, 1)
	if err != nil {
		return nil, err
	}
	t, err := tag.Encode(p.Tag...)
	if err != nil {
		return nil, err
	}
	appRestrict, err := optionalAddr("apprestrict", p.AppRestrict)
	if err != nil {
		return nil, err
	}
	workerpoolRestrict, err := optionalAddr("workerpoolrestrict", p.WorkerpoolRestrict)
	if err != nil {
		return nil, err
	}
	requesterRestrict, err := optionalAddr("requesterrestrict", p.RequesterRestrict)
	if err != nil {
		return nil, err
	}
	return &DatasetOrder{
		Dataset:            dataset,
		DatasetPrice:       price,
		Volume:             volume,
		Tag:                t,
		AppRestrict:        appRestrict,
		WorkerpoolRestrict: workerpoolRestrict,
		RequesterRestrict:  requesterRestrict,
	}, nil
}

// WorkerpoolOrderParams are the user-supplied overrides for a workerpool
// order. Workerpool and Category are required.
type WorkerpoolOrderParams struct {
	Workerpool        string
	Price             *stdbig.Int
	Volume            *stdbig.Int
	Category          *stdbig.Int
	Trust             *stdbig.Int
	Tag               []string
	AppRestrict       string
	DatasetRestrict   string
	RequesterRestrict string
}

// NewWorkerpoolOrder builds an unsigned workerpool order template.
func NewWorkerpoolOrder(p WorkerpoolOrderParams) (*WorkerpoolOrder, error) {
	workerpool, err := requiredAddr("workerpool", p.Workerpool)
	if err != nil {
		return nil, err
	}
	if p.Category == nil {
		return nil, missingField("category")
	}
	category, err := amount("category", p.Category, 0)
	if err != nil {
		return nil, err
	}
	price, err := amount("workerpoolprice", p.Price, 0)
	if err != nil {
		return nil, err
	}
	volume, err := amount("volume", p.Volume, 1)
	if err != nil {
		return nil, err
	}
	trust, err := amount("trust", p.Trust, 0)
	if err != nil {
		return nil, err
	}
	t, err := tag.Encode(p.Tag...)
	if err != nil {
		return nil, err
	}
	appRestrict, err := optionalAddr("apprestrict", p.AppRestrict)
	if err != nil {
		return nil, err
	}
	datasetRestrict, err := optionalAddr("datasetrestrict", p.DatasetRestrict)
	if err != nil {
		return nil, err
	}
	requesterRestrict, err := optionalAddr("requesterrestrict", p.RequesterRestrict)
	if err != nil {
		return nil, err
	}
	return &WorkerpoolOrder{
		Workerpool:        workerpool,
		WorkerpoolPrice:   price,
		Volume:            volume,
		Tag:               t,
		Category:          category,
		Trust:             trust,
		AppRestrict:       appRestrict,
		DatasetRestrict:   datasetRestrict,
		RequesterRestrict: requesterRestrict,
	}, nil
}

// RequestParams is the structured form of a request order's execution
// parameters. It serializes deterministically (JSON object with sorted keys)
// so the same parameters always hash the same way.
type RequestParams struct {
	Args            string
	InputFiles      []string
	StorageProvider string
}

// RequestOrderParams are the user-supplied overrides for a request order.
// App, Requester and Category are required. Exactly one of Params and
// RawParams may be set; RawParams is a pre-serialized params string.
type RequestOrderParams struct {
	App                string
	AppMaxPrice        *stdbig.Int
	Dataset            string
	DatasetMaxPrice    *stdbig.Int
	Workerpool         string
	WorkerpoolMaxPrice *stdbig.Int
	Requester          string
	Volume             *stdbig.Int
	Category           *stdbig.Int
	Trust              *stdbig.Int
	Tag                []string
	Beneficiary        string
	Callback           string
	Params             *RequestParams
	RawParams          string
}

// NewRequestOrder builds an unsigned request order template.
func NewRequestOrder(p RequestOrderParams, def Defaults) (*RequestOrder, error) {
	app, err := requiredAddr("app", p.App)
	if err != nil {
		return nil, err
	}
	requester, err := requiredAddr("requester", p.Requester)
	if err != nil {
		return nil, err
	}
	if p.Category == nil {
		return nil, missingField("category")
	}
	category, err := amount("category", p.Category, 0)
	if err != nil {
		return nil, err
	}
	appMax, err := amount("appmaxprice", p.AppMaxPrice, 0)
	if err != nil {
		return nil, err
	}
	datasetMax, err := amount("datasetmaxprice", p.DatasetMaxPrice, 0)
	if err != nil {
		return nil, err
	}
	workerpoolMax, err := amount("workerpoolmaxprice", p.WorkerpoolMaxPrice, 0)
	if err != nil {
		return nil, err
	}
	volume, err := amount("volume", p.Volume, 1)
	if err != nil {
		return nil, err
	}
	trust, err := amount("trust", p.Trust, 0)
	if err != nil {
		return nil, err
	}
	t, err := tag.Encode(p.Tag...)
	if err != nil {
		return nil, err
	}
	dataset, err := optionalAddr("dataset", p.Dataset)
	if err != nil {
		return nil, err
	}
	workerpool, err := optionalAddr("workerpool", p.Workerpool)
	if err != nil {
		return nil, err
	}
	beneficiary, err := optionalAddr("beneficiary", p.Beneficiary)
	if err != nil {
		return nil, err
	}
	callback, err := optionalAddr("callback", p.Callback)
	if err != nil {
		return nil, err
	}
	params, err := serializeParams(p.Params, p.RawParams, def)
	if err != nil {
		return nil, err
	}
	return &RequestOrder{
		App:                app,
		AppMaxPrice:        appMax,
		Dataset:            dataset,
		DatasetMaxPrice:    datasetMax,
		Workerpool:         workerpool,
		WorkerpoolMaxPrice: workerpoolMax,
		Requester:          requester,
		Volume:             volume,
		Tag:                t,
		Category:           category,
		Trust:              trust,
		Beneficiary:        beneficiary,
		Callback:           callback,
		Params:             params,
	}, nil
}

func serializeParams(p *RequestParams, raw string, def Defaults) (string, error) {
	if p != nil && raw != "" {
		return "", fmt.Errorf("params: structured and raw forms are exclusive")
	}

	fields := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return "", fmt.Errorf("params: invalid JSON: %w", err)
		}
	} else if p != nil {
		if p.Args != "" {
			fields["args"] = p.Args
		}
		if len(p.InputFiles) > 0 {
			fields["input_files"] = p.InputFiles
		}
		if p.StorageProvider != "" {
			fields["storage_provider"] = p.StorageProvider
		}
	}

	if _, ok := fields["storage_provider"]; !ok {
		provider := def.ResultStorageProvider
		if provider == "" {
			provider = fallbackStorageProvider
		}
		fields["storage_provider"] = provider
	}

	// encoding/json writes map keys in sorted order, which is exactly the
	// determinism the hash needs.
	out, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("params: %w", err)
	}
	return string(out), nil
}

func requiredAddr(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, missingField(name)
	}
	addr, err := crypto.NormalizeAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func optionalAddr(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	return requiredAddr(name, s)
}

func amount(name string, v *stdbig.Int, def int64) (big.Int, error) {
	if v == nil {
		return big.NewInt(def), nil
	}
	if v.Sign() < 0 {
		return big.Int{}, fmt.Errorf("%s: %w %s", name, ErrNegative, v)
	}
	return big.NewFromGo(new(stdbig.Int).Set(v)), nil
}
