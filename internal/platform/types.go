package platform

import "time"

type Auth struct {
	AccessToken string
	UserID      string
}

type CreditBalance struct {
	Credits int `json:"credits"`
}

// Amount is how many credits to buy, Threshold the balance that triggers it.
type AutoTopUpConfig struct {
	Amount    int `json:"amount"`
	Threshold int `json:"threshold"`
}

type CheckoutSession struct {
	CheckoutURL string `json:"checkout_url"`
}

type Transaction struct {
	TransactionKey  string    `json:"transaction_key"`
	TransactionTime time.Time `json:"transaction_time"`
	TransactionType string    `json:"transaction_type"`
	Amount          int       `json:"amount"`
	RunningBalance  int       `json:"running_balance"`
	Description     string    `json:"description"`
}

// A nil NextTransactionTime means there are no older transactions to fetch.
type TransactionHistory struct {
	Transactions        []Transaction `json:"transactions"`
	NextTransactionTime *time.Time    `json:"next_transaction_time"`
}

type StoreAgentDetails struct {
	StoreListingVersionID string  `json:"store_listing_version_id"`
	Slug                  string  `json:"slug"`
	AgentName             string  `json:"agent_name"`
	Creator               string  `json:"creator"`
	SubHeading            string  `json:"sub_heading"`
	Description           string  `json:"description"`
	Runs                  int     `json:"runs"`
	Rating                float64 `json:"rating"`
}

type LibraryAgent struct {
	ID           string `json:"id"`
	GraphID      string `json:"graph_id"`
	GraphVersion int    `json:"graph_version"`
	Name         string `json:"name"`
}

type HistoryEntry struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

type AskRequest struct {
	Query               string         `json:"query"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
	UserID              string         `json:"user_id"`
	MessageID           string         `json:"message_id"`
	IncludeGraphData    bool           `json:"include_graph_data"`
	GraphID             string         `json:"graph_id,omitempty"`
}

type Document struct {
	URL            string  `json:"url"`
	RelevanceScore float64 `json:"relevance_score"`
}

type AskResponse struct {
	Answer    string     `json:"answer"`
	Documents []Document `json:"documents"`
	Success   bool       `json:"success"`
}
