package provisioning

import "sort"

// Seed packs are the content bundles applied during provisioning. They are
// compiled in rather than loaded from files so a pack can never be half
// present at runtime.

// LinkSeed is one navigation entry.
type LinkSeed struct {
	Slug      string
	Title     string
	Placement string
	SortOrder int
}

// FieldKeySeed is one property attribute definition.
type FieldKeySeed struct {
	GlobalKey string
	Tag       string
}

// PropertySeed is one sample listing.
type PropertySeed struct {
	Reference        string
	Title            string
	PriceSaleCents   int64
	PriceRentalCents int64
	ForSale          bool
	ForRent          bool
}

// SeedPack bundles the content for one market preset.
type SeedPack struct {
	Name       string
	Links      []LinkSeed
	FieldKeys  []FieldKeySeed
	Properties []PropertySeed
}

var defaultFieldKeys = []FieldKeySeed{
	{GlobalKey: "bedrooms", Tag: "property"},
	{GlobalKey: "bathrooms", Tag: "property"},
	{GlobalKey: "plot_area", Tag: "property"},
	{GlobalKey: "constructed_area", Tag: "property"},
	{GlobalKey: "year_built", Tag: "property"},
	{GlobalKey: "energy_rating", Tag: "property"},
}

var seedPacks = map[string]SeedPack{
	"default": {
		Name: "default",
		Links: []LinkSeed{
			{Slug: "home", Title: "Home", Placement: "top_nav", SortOrder: 0},
			{Slug: "buy", Title: "Buy", Placement: "top_nav", SortOrder: 1},
			{Slug: "rent", Title: "Rent", Placement: "top_nav", SortOrder: 2},
			{Slug: "sell", Title: "Sell", Placement: "top_nav", SortOrder: 3},
			{Slug: "about-us", Title: "About Us", Placement: "footer", SortOrder: 4},
			{Slug: "contact-us", Title: "Contact Us", Placement: "footer", SortOrder: 5},
		},
		FieldKeys: defaultFieldKeys,
		Properties: []PropertySeed{
			{Reference: "demo-villa-1", Title: "Detached villa with sea views", PriceSaleCents: 42_500_000, ForSale: true},
			{Reference: "demo-apartment-1", Title: "Two bedroom city apartment", PriceRentalCents: 120_000, ForRent: true},
			{Reference: "demo-townhouse-1", Title: "Renovated townhouse near the square", PriceSaleCents: 19_900_000, ForSale: true},
		},
	},
	"spain": {
		Name: "spain",
		Links: []LinkSeed{
			{Slug: "inicio", Title: "Inicio", Placement: "top_nav", SortOrder: 0},
			{Slug: "comprar", Title: "Comprar", Placement: "top_nav", SortOrder: 1},
			{Slug: "alquilar", Title: "Alquilar", Placement: "top_nav", SortOrder: 2},
			{Slug: "vender", Title: "Vender", Placement: "top_nav", SortOrder: 3},
			{Slug: "contacto", Title: "Contacto", Placement: "footer", SortOrder: 4},
		},
		FieldKeys: defaultFieldKeys,
		Properties: []PropertySeed{
			{Reference: "demo-chalet-1", Title: "Chalet independiente con piscina", PriceSaleCents: 38_000_000, ForSale: true},
			{Reference: "demo-piso-1", Title: "Piso céntrico de dos dormitorios", PriceRentalCents: 95_000, ForRent: true},
			{Reference: "demo-atico-1", Title: "Ático con terraza y vistas", PriceSaleCents: 27_500_000, ForSale: true},
		},
	},
	"residential": {
		Name: "residential",
		Links: []LinkSeed{
			{Slug: "home", Title: "Home", Placement: "top_nav", SortOrder: 0},
			{Slug: "listings", Title: "Listings", Placement: "top_nav", SortOrder: 1},
			{Slug: "neighbourhoods", Title: "Neighbourhoods", Placement: "top_nav", SortOrder: 2},
			{Slug: "valuations", Title: "Valuations", Placement: "top_nav", SortOrder: 3},
			{Slug: "contact-us", Title: "Contact Us", Placement: "footer", SortOrder: 4},
		},
		FieldKeys: append(defaultFieldKeys,
			FieldKeySeed{GlobalKey: "garden", Tag: "property"},
			FieldKeySeed{GlobalKey: "parking_spaces", Tag: "property"},
		),
		Properties: []PropertySeed{
			{Reference: "demo-family-home-1", Title: "Four bedroom family home", PriceSaleCents: 52_000_000, ForSale: true},
			{Reference: "demo-bungalow-1", Title: "Single storey bungalow with garden", PriceSaleCents: 31_000_000, ForSale: true},
			{Reference: "demo-flat-1", Title: "Ground floor flat near schools", PriceRentalCents: 140_000, ForRent: true},
		},
	},
}

// SeedPackNames lists the available packs.
func SeedPackNames() []string {
	names := make([]string, 0, len(seedPacks))
	for name := range seedPacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
