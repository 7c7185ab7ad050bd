package extract

// stoplists holds the most frequent function words per language.
var stoplists = map[string]string{
	"en": `a about above after again against all also am an and any are as at be because been before
being below between both but by can could did do does doing down during each few for from further had
has have having he her here hers herself him himself his how i if in into is it its itself just me
more most my myself no nor not now of off on once only or other our ours ourselves out over own same
she should so some such than that the their theirs them themselves then there these they this those
through to too under until up very was we were what when where which while who whom why will with
would you your yours yourself yourselves`,
	"fr": `à au aux avec ce ces cette dans de des du elle elles en est et été être eu il ils je la le les
leur leurs lui ma mais me même mes moi mon ne nos notre nous on ont ou où par pas pour qu que qui sa
sans se ses son sont sur ta te tes toi ton tu un une vos votre vous y était avait sont aussi comme
plus bien fait peut entre deux très tout tous toutes cela ça donc alors si`,
	"de": `aber alle als also am an auch auf aus bei bin bis bist da damit dann das dass dein dem den der
des dich die dies diese dieser dir doch du durch ein eine einem einen einer eines er es euer für hat
hatte hier ich ihr im in ist ja jede kann kein mich mir mit muss nach nicht noch nun nur ob oder ohne
sehr sein seine sich sie sind so über um und uns unser vom von vor war waren was weil wenn werden wie
wir wird wo zu zum zur`,
	"es": `a al algo como con cual cuando de del desde donde dos el ella ellas ellos en entre era es esa
ese eso esta este esto estos fue ha hay la las le les lo los más me mi muy nada ni no nos o otra otro
para pero poco por porque que quien se ser si sin sobre su sus también tan te tiene todo todos tu un
una uno unos y ya está están son fueron había cada`,
	"it": `a ad al alla alle anche avere che chi ci come con cui da dal dalla degli dei del della delle di
dove e è ed era essere fa gli ha hanno il in io la le lei lo loro lui ma mi molto ne nei nel nella
noi non o per perché più può quale quando quello questa questo se sei si sono su sua sue suo tra tu
tutto un una uno sul anche così ancora stato`,
	"pt": `a ao aos as até com como da das de dela dele do dos e é ela ele eles em entre era essa esse
esta este eu foi há isso já lhe mais mas me mesmo meu muito na nas não no nos o os ou para pela pelo
por qual quando que quem se sem ser seu sua são também te tem um uma você foram está estão cada onde`,
	"nl": `aan al als bij dan dat de der deze die dit door dus een en er ge geen had heb hebben heeft hem
het hier hij hoe hun ik in is ja je kan kon maar me meer men met mij mijn na naar niet niets nog nu of
om ook op over te tegen toch tot u uit van veel voor want was wat we wel werd wie wij wordt zal ze zei
zelf zich zij zijn zo zonder`,
}
