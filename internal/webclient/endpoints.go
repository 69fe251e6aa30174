package webclient

// HostKey identifies one of the platform's HTTP hosts. The Web Client
// maintains independent cookies, rate limits, and circuit-breaker state
// per HostKey.
type HostKey string

const (
	HostCommunity HostKey = "community"
	HostStore     HostKey = "store"
	HostHelp      HostKey = "help"
	HostWebAPI    HostKey = "webapi"
)

// Endpoints is the full set of base URLs and paths the Web Client talks
// to, reproduced bit-exact against the platform's current surface.
type Endpoints struct {
	BaseURL map[HostKey]string

	// LoginFallbackHost is the distinguished host whose mere presence in
	// a response's final URL marks the session as expired, independent
	// of path.
	LoginFallbackHost string
}

// DefaultEndpoints returns the endpoint table for the platform's
// production hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BaseURL: map[HostKey]string{
			HostCommunity: "https://community.platform.example",
			HostStore:     "https://store.platform.example",
			HostHelp:      "https://help.platform.example",
			HostWebAPI:    "https://api.platform.example",
		},
		LoginFallbackHost: "login.platform.example",
	}
}

// Path builders. Kept as named constants/functions so callers never
// inline path strings, per the Web Client's endpoint contract.
const (
	pathAccountOverview  = "/my/home"
	pathInventory        = "/inventory/%d/%d/%d"
	pathTradeOfferNew    = "/tradeoffer/new/send"
	pathAuthenticateUser = "/ISteamUserAuth/AuthenticateUser/v1"
	pathMobileConf       = "/mobileconf/conf"
	pathGiftCard         = "/gifts/%d/redeem"
	pathWalletRedeem     = "/account/validatewalletcode"
	pathAPIKeyPage       = "/dev/apikey"
	pathAPIKeyRegister   = "/dev/registerkey"
	pathParentalUnlock   = "/parental/ajaxunlock"
)
