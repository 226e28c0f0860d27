package a2a

// AgentCapabilities advertises protocol features the agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// Skill describes one capability the agent can perform.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples"`
}

// AuthConfig declares how callers authenticate to the agent.
type AuthConfig struct {
	Type           string `json:"type"`
	CredentialsURL string `json:"credentialsUrl,omitempty"`
}

// AgentCard is the discovery document served at /.well-known/agent.json.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	Version            string            `json:"version"`
	URL                string            `json:"url"`
	DocumentationURL   string            `json:"documentationUrl,omitempty"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	Skills             []Skill           `json:"skills"`
	Authentication     *AuthConfig       `json:"authentication,omitempty"`
	DefaultInputModes  []string          `json:"defaultInputModes"`
	DefaultOutputModes []string          `json:"defaultOutputModes"`
}

// GetAgentCard returns the agent card, with URLs derived from baseURL.
func GetAgentCard(baseURL string) AgentCard {
	return AgentCard{
		Name: "Orders Analytics Agent",
		Description: "AI-powered agent for querying and analyzing order data. " +
			"Supports natural language queries for order analytics, " +
			"customer order lookup, and order creation.",
		Version:          "1.0.0",
		URL:              baseURL,
		DocumentationURL: baseURL + "/docs",
		Capabilities: AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: true,
		},
		Skills: []Skill{
			{
				ID:   "get_all_orders",
				Name: "Get All Orders",
				Description: "Retrieve all customer orders from the system. " +
					"Returns comprehensive order data including product name, amount, size, and order date.",
				Tags: []string{"orders", "query", "analytics"},
				Examples: []string{
					"Show me all orders",
					"List all orders in the system",
					"What orders do we have?",
					"Give me an overview of all orders",
				},
			},
			{
				ID:   "get_orders_by_customer_id",
				Name: "Get Customer Orders",
				Description: "Get a customer's complete order history by their customer ID. " +
					"Returns orders including product name, quantity, price, size, and order date.",
				Tags: []string{"orders", "customer", "lookup"},
				Examples: []string{
					"Show orders for customer CUST001",
					"What did customer C12345 order?",
					"Get order history for customer ABC",
					"Find orders by customer ID XYZ",
				},
			},
			{
				ID:   "create_order",
				Name: "Create Order",
				Description: "Create a new order record in the system. " +
					"Requires customer ID, customer name, product name, price, and order date.",
				Tags: []string{"orders", "create", "transaction"},
				Examples: []string{
					"Create an order for customer CUST001 named John Doe for a laptop at $999",
					"Place a new order for product Widget X",
					"Add an order for customer ABC",
				},
			},
			{
				ID:   "analyze_orders",
				Name: "Analyze Orders",
				Description: "Perform analytics queries on order data. Calculate totals, " +
					"averages, trends, and provide insights from order data.",
				Tags: []string{"analytics", "insights", "reporting"},
				Examples: []string{
					"What's our total revenue?",
					"How many orders do we have?",
					"What's the average order value?",
					"Summarize our order data",
				},
			},
		},
		Authentication:     &AuthConfig{Type: "bearer"},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
	}
}
