// Package customer defines the importCustomers job: customer records read from a
// delimited file and upserted into the workload database in chunks.
package customer

// Customer is one row of the input file and of the customers_info table.
type Customer struct {
	ID        int64  `field:"id" gorm:"column:id;primaryKey" json:"id"`
	FirstName string `field:"firstName" gorm:"column:first_name" json:"firstName"`
	LastName  string `field:"lastName" gorm:"column:last_name" json:"lastName"`
	Email     string `field:"email" gorm:"column:email" json:"email"`
	Gender    string `field:"gender" gorm:"column:gender" json:"gender"`
	ContactNo string `field:"contactNo" gorm:"column:contact_no" json:"contactNo"`
	Country   string `field:"country" gorm:"column:country" json:"country"`
	Dob       string `field:"dob" gorm:"column:dob" json:"dob"`
}

// TableName is the table customers are written to.
const TableName = "customers_info"

// TableName specifies the table name for Customer.
func (Customer) TableName() string {
	return TableName
}

// FieldNames are the input columns, in file order.
var FieldNames = []string{"id", "firstName", "lastName", "email", "gender", "contactNo", "country", "dob"}

// updateColumns are overwritten when a customer with the same id already exists.
var updateColumns = []string{"first_name", "last_name", "email", "gender", "contact_no", "country", "dob"}
