package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BloodType is one of the eight ABO/Rh groups.
type BloodType string

const (
	BloodTypeAPositive  BloodType = "A+"
	BloodTypeANegative  BloodType = "A-"
	BloodTypeBPositive  BloodType = "B+"
	BloodTypeBNegative  BloodType = "B-"
	BloodTypeABPositive BloodType = "AB+"
	BloodTypeABNegative BloodType = "AB-"
	BloodTypeOPositive  BloodType = "O+"
	BloodTypeONegative  BloodType = "O-"
)

var bloodTypes = [...]BloodType{
	BloodTypeAPositive,
	BloodTypeANegative,
	BloodTypeBPositive,
	BloodTypeBNegative,
	BloodTypeABPositive,
	BloodTypeABNegative,
	BloodTypeOPositive,
	BloodTypeONegative,
}

const bloodTypeCount = len(bloodTypes)

// BloodTypes returns every blood type in canonical order.
func BloodTypes() []BloodType {
	out := make([]BloodType, bloodTypeCount)
	copy(out, bloodTypes[:])
	return out
}

// ParseBloodType validates a blood type label such as "AB-".
func ParseBloodType(raw string) (BloodType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	for _, bloodType := range bloodTypes {
		if string(bloodType) == normalized {
			return bloodType, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBloodType, raw)
}

// String returns the label.
func (bloodType BloodType) String() string {
	return string(bloodType)
}

func (bloodType BloodType) index() int {
	for position, candidate := range bloodTypes {
		if candidate == bloodType {
			return position
		}
	}
	return -1
}

// Component is the blood product form, distinct from the blood type.
type Component string

const (
	ComponentWholeBlood     Component = "Whole Blood"
	ComponentSinglePlasma   Component = "Single Plasma"
	ComponentSinglePlatelet Component = "Single Platelet"
)

var components = [...]Component{ComponentWholeBlood, ComponentSinglePlasma, ComponentSinglePlatelet}

// ParseComponent validates a component label (case-insensitive).
func ParseComponent(raw string) (Component, error) {
	normalized := strings.TrimSpace(raw)
	for _, component := range components {
		if strings.EqualFold(string(component), normalized) {
			return component, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidComponent, raw)
}

// String returns the label.
func (component Component) String() string {
	return string(component)
}

// City enumerates the supported service cities.
type City string

const (
	CityAhmedabad City = "Ahmedabad"
	CityDelhi     City = "Delhi"
	CityMumbai    City = "Mumbai"
	CityLucknow   City = "Lucknow"
	CityBangalore City = "Bangalore"
)

var cities = [...]City{CityAhmedabad, CityDelhi, CityMumbai, CityLucknow, CityBangalore}

// ParseCity validates a city name (case-insensitive).
func ParseCity(raw string) (City, error) {
	normalized := strings.TrimSpace(raw)
	for _, city := range cities {
		if strings.EqualFold(string(city), normalized) {
			return city, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCity, raw)
}

// String returns the city name.
func (city City) String() string {
	return string(city)
}

// BankID identifies a blood bank account.
type BankID struct {
	value string
}

// NewBankID validates and normalizes a bank id.
func NewBankID(raw string) (BankID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BankID{}, fmt.Errorf("%w: empty value", ErrInvalidBankID)
	}
	return BankID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BankID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id BankID) IsZero() bool {
	return id.value == ""
}

// BatchID identifies a stock batch inside one account.
type BatchID struct {
	value string
}

// NewBatchID validates and normalizes a batch id.
func NewBatchID(raw string) (BatchID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BatchID{}, fmt.Errorf("%w: empty value", ErrInvalidBatchID)
	}
	return BatchID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BatchID) String() string {
	return id.value
}

// Units counts blood units.
type Units int64

// NewUnits validates a unit count and ensures it is strictly positive.
func NewUnits(raw int64) (Units, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnits)
	}
	return Units(raw), nil
}

// ParseUnits parses a form value into a positive unit count.
func ParseUnits(raw string) (Units, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: not a number", ErrInvalidUnits)
	}
	return NewUnits(parsed)
}

// Int64 exposes the raw count.
func (units Units) Int64() int64 {
	return int64(units)
}

// NewExpiry validates an expiry timestamp.
func NewExpiry(raw time.Time) (time.Time, error) {
	if raw.IsZero() {
		return time.Time{}, fmt.Errorf("%w: missing value", ErrInvalidExpiry)
	}
	return raw.UTC(), nil
}

// ParseExpiry accepts RFC 3339 timestamps or plain dates (YYYY-MM-DD).
func ParseExpiry(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: missing value", ErrInvalidExpiry)
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		parsed, err := time.Parse(layout, trimmed)
		if err == nil {
			return NewExpiry(parsed)
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable %q", ErrInvalidExpiry, raw)
}

// StockInput is a validated request to add a batch.
type StockInput struct {
	Component Component
	BloodType BloodType
	City      City
	Units     Units
	ExpiresAt time.Time
}

// NewStockInput validates the raw fields of an add-stock request.
func NewStockInput(component string, bloodType string, city string, units int64, expiresAt time.Time) (StockInput, error) {
	parsedComponent, err := ParseComponent(component)
	if err != nil {
		return StockInput{}, err
	}
	parsedBloodType, err := ParseBloodType(bloodType)
	if err != nil {
		return StockInput{}, err
	}
	parsedCity, err := ParseCity(city)
	if err != nil {
		return StockInput{}, err
	}
	parsedUnits, err := NewUnits(units)
	if err != nil {
		return StockInput{}, err
	}
	parsedExpiry, err := NewExpiry(expiresAt)
	if err != nil {
		return StockInput{}, err
	}
	return StockInput{
		Component: parsedComponent,
		BloodType: parsedBloodType,
		City:      parsedCity,
		Units:     parsedUnits,
		ExpiresAt: parsedExpiry,
	}, nil
}

func (input StockInput) validate() error {
	if _, err := ParseComponent(input.Component.String()); err != nil {
		return err
	}
	if input.BloodType.index() < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidBloodType, input.BloodType)
	}
	if _, err := ParseCity(input.City.String()); err != nil {
		return err
	}
	if _, err := NewUnits(input.Units.Int64()); err != nil {
		return err
	}
	if _, err := NewExpiry(input.ExpiresAt); err != nil {
		return err
	}
	return nil
}

// StockBatch is one discrete addition of blood units.
// CountedUnits records how many of its units the summary currently includes.
type StockBatch struct {
	ID           BatchID
	Component    Component
	BloodType    BloodType
	City         City
	Units        Units
	ExpiresAt    time.Time
	AddedAt      time.Time
	CountedUnits Units
}

// Available reports whether the batch is non-empty and unexpired at now.
func (batch StockBatch) Available(now time.Time) bool {
	return batch.Units > 0 && batch.ExpiresAt.After(now)
}

// Expired reports whether the batch expiry has passed at now.
func (batch StockBatch) Expired(now time.Time) bool {
	return !batch.ExpiresAt.After(now)
}

func (batch StockBatch) contribution(now time.Time) Units {
	if !batch.Available(now) {
		return 0
	}
	return batch.Units
}

// Summary holds available units per blood type. Every type is always present.
type Summary struct {
	units [bloodTypeCount]Units
}

// NewSummary builds a summary from per-type counts; missing types are zero.
func NewSummary(values map[BloodType]Units) (Summary, error) {
	var summary Summary
	for bloodType, units := range values {
		position := bloodType.index()
		if position < 0 {
			return Summary{}, fmt.Errorf("%w: unknown blood type %q", ErrInvalidSummary, bloodType)
		}
		if units < 0 {
			return Summary{}, fmt.Errorf("%w: negative units for %s", ErrInvalidSummary, bloodType)
		}
		summary.units[position] = units
	}
	return summary, nil
}

// Units returns the available units for a blood type.
func (summary Summary) Units(bloodType BloodType) Units {
	position := bloodType.index()
	if position < 0 {
		return 0
	}
	return summary.units[position]
}

// Total returns the units across all types.
func (summary Summary) Total() Units {
	var total Units
	for _, units := range summary.units {
		total += units
	}
	return total
}

// Map returns every blood type with its count, zeros included.
func (summary Summary) Map() map[BloodType]Units {
	out := make(map[BloodType]Units, bloodTypeCount)
	for position, bloodType := range bloodTypes {
		out[bloodType] = summary.units[position]
	}
	return out
}

// add applies delta and reports false, leaving the entry untouched, when the
// result would be negative.
func (summary *Summary) add(bloodType BloodType, delta int64) bool {
	position := bloodType.index()
	if position < 0 {
		return false
	}
	updated := summary.units[position].Int64() + delta
	if updated < 0 {
		return false
	}
	summary.units[position] = Units(updated)
	return true
}

func (summary *Summary) set(bloodType BloodType, units Units) {
	position := bloodType.index()
	if position < 0 {
		return
	}
	summary.units[position] = units
}

// MarshalJSON encodes the summary as an object keyed by blood type.
func (summary Summary) MarshalJSON() ([]byte, error) {
	values := make(map[string]int64, bloodTypeCount)
	for position, bloodType := range bloodTypes {
		values[bloodType.String()] = summary.units[position].Int64()
	}
	return json.Marshal(values)
}

// UnmarshalJSON decodes an object keyed by blood type.
func (summary *Summary) UnmarshalJSON(data []byte) error {
	var values map[string]int64
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSummary, err)
	}
	typed := make(map[BloodType]Units, len(values))
	for label, units := range values {
		bloodType, err := ParseBloodType(label)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSummary, err)
		}
		typed[bloodType] = Units(units)
	}
	decoded, err := NewSummary(typed)
	if err != nil {
		return err
	}
	*summary = decoded
	return nil
}

// Profile carries the identity fields of a blood bank.
type Profile struct {
	Name          string
	Hospital      string
	Category      string
	ContactPerson string
	Email         string
	ContactNo     string
	LicenseNo     string
	Address       string
	Pincode       string
	City          City
}

// PublicInfo is the projection of a blood bank that is safe to publish.
type PublicInfo struct {
	Name      string `json:"bloodBankName"`
	Hospital  string `json:"hospitalName"`
	City      City   `json:"city"`
	ContactNo string `json:"contactNo"`
	Email     string `json:"email"`
	Address   string `json:"address"`
}

// Account is a blood bank together with its stock ledger.
type Account struct {
	ID           BankID
	Profile      Profile
	PasswordHash string
	Batches      []StockBatch
	Summary      Summary
	Version      int64
	CreatedAt    time.Time
}

// PublicInfo projects the account for public search results.
func (account Account) PublicInfo() PublicInfo {
	return PublicInfo{
		Name:      account.Profile.Name,
		Hospital:  account.Profile.Hospital,
		City:      account.Profile.City,
		ContactNo: account.Profile.ContactNo,
		Email:     account.Profile.Email,
		Address:   account.Profile.Address,
	}
}

// AccountView is what a bank sees on its own dashboard.
type AccountView struct {
	BankID  BankID
	Info    PublicInfo
	Batches []StockBatch
	Summary Summary
}

// AccountFilter narrows a store scan.
type AccountFilter struct {
	City City
}

// AvailabilityFilter narrows an availability query; zero fields match anything.
type AvailabilityFilter struct {
	Component Component
	BloodType BloodType
	City      City
}

// NewAvailabilityFilter parses optional query values; blank values are wildcards.
func NewAvailabilityFilter(component string, bloodType string, city string) (AvailabilityFilter, error) {
	var filter AvailabilityFilter
	if strings.TrimSpace(component) != "" {
		parsed, err := ParseComponent(component)
		if err != nil {
			return AvailabilityFilter{}, err
		}
		filter.Component = parsed
	}
	if strings.TrimSpace(bloodType) != "" {
		parsed, err := ParseBloodType(bloodType)
		if err != nil {
			return AvailabilityFilter{}, err
		}
		filter.BloodType = parsed
	}
	if strings.TrimSpace(city) != "" {
		parsed, err := ParseCity(city)
		if err != nil {
			return AvailabilityFilter{}, err
		}
		filter.City = parsed
	}
	return filter, nil
}

// Key returns a stable string form used for caching.
func (filter AvailabilityFilter) Key() string {
	return strings.Join([]string{filter.Component.String(), filter.BloodType.String(), filter.City.String()}, "|")
}

func (filter AvailabilityFilter) matches(batch StockBatch) bool {
	if filter.Component != "" && batch.Component != filter.Component {
		return false
	}
	if filter.BloodType != "" && batch.BloodType != filter.BloodType {
		return false
	}
	return true
}

// AvailabilityMatch pairs a bank with its batches that satisfy a filter.
type AvailabilityMatch struct {
	Bank    PublicInfo
	Batches []StockBatch
}

// Stats aggregates stock across every blood bank.
type Stats struct {
	BloodBanks     int
	TotalUnits     Units
	UnitsByType    Summary
	MostNeededType string
}

// SweepReport summarizes an expired-stock sweep.
type SweepReport struct {
	AccountsScanned int
	AccountsUpdated int
	BatchesRemoved  int
}

// Registration is a validated blood bank sign-up.
type Registration struct {
	Profile  Profile
	Password string
}

// NormalizeEmail is the stored and looked-up form of a login email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewRegistration validates the sign-up fields. The first blank field in
// form order is reported.
func NewRegistration(profile Profile, password string) (Registration, error) {
	required := []struct {
		field string
		value string
	}{
		{field: "name", value: profile.Name},
		{field: "hospital", value: profile.Hospital},
		{field: "category", value: profile.Category},
		{field: "contact person", value: profile.ContactPerson},
		{field: "email", value: profile.Email},
		{field: "contact number", value: profile.ContactNo},
		{field: "license number", value: profile.LicenseNo},
		{field: "address", value: profile.Address},
		{field: "pincode", value: profile.Pincode},
	}
	for _, candidate := range required {
		if strings.TrimSpace(candidate.value) == "" {
			return Registration{}, fmt.Errorf("%w: %s is required", ErrInvalidProfile, candidate.field)
		}
	}
	if !strings.Contains(profile.Email, "@") {
		return Registration{}, fmt.Errorf("%w: malformed email", ErrInvalidProfile)
	}
	city, err := ParseCity(profile.City.String())
	if err != nil {
		return Registration{}, err
	}
	if len(password) < 6 {
		return Registration{}, fmt.Errorf("%w: must be at least 6 characters", ErrInvalidPassword)
	}
	normalized := Profile{
		Name:          strings.TrimSpace(profile.Name),
		Hospital:      strings.TrimSpace(profile.Hospital),
		Category:      strings.TrimSpace(profile.Category),
		ContactPerson: strings.TrimSpace(profile.ContactPerson),
		Email:         NormalizeEmail(profile.Email),
		ContactNo:     strings.TrimSpace(profile.ContactNo),
		LicenseNo:     strings.TrimSpace(profile.LicenseNo),
		Address:       strings.TrimSpace(profile.Address),
		Pincode:       strings.TrimSpace(profile.Pincode),
		City:          city,
	}
	return Registration{Profile: normalized, Password: password}, nil
}
